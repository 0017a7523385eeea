package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBDSN        string
	MongoURI     string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string

	// Defaults applied when an event has no queue_configurations row.
	HoldTTL            time.Duration
	ActiveSessionTTL   time.Duration
	MaxConcurrent      int
	PromotionBatchSize int

	SweepInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		DBDSN:              os.Getenv("DB_DSN"),
		MongoURI:           os.Getenv("MONGO_URI"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RabbitURL:          os.Getenv("RABBIT_URL"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		HoldTTL:            durationEnv("HOLD_TTL", 10*time.Minute),
		ActiveSessionTTL:   durationEnv("ACTIVE_SESSION_TTL", 5*time.Minute),
		MaxConcurrent:      intEnv("MAX_CONCURRENT", 100),
		PromotionBatchSize: intEnv("PROMOTION_BATCH_SIZE", 10),
		SweepInterval:      durationEnv("SWEEP_INTERVAL", 20*time.Second),
	}, nil
}

func durationEnv(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func intEnv(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
