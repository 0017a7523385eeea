package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/ticketline/admission/internal/adapters/crdb"
	mongoadapter "github.com/ticketline/admission/internal/adapters/mongo"
	redisadapter "github.com/ticketline/admission/internal/adapters/redis"
	"github.com/ticketline/admission/internal/admission"
	"github.com/ticketline/admission/internal/clock"
	"github.com/ticketline/admission/internal/config"
	"github.com/ticketline/admission/internal/hold"
	httphandler "github.com/ticketline/admission/internal/http"
	"github.com/ticketline/admission/internal/idempotency"
	"github.com/ticketline/admission/internal/ledger"
	"github.com/ticketline/admission/internal/observability"
	"github.com/ticketline/admission/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer pool.Close()
	if err := crdb.EnsureSchema(context.Background(), pool); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("admission"), logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, time.Hour)
	rl := rateLimit.NewRateLimiter(redisCache)

	clk := clock.NewSystem()
	lgr := ledger.New(repo, logger)
	holds := hold.NewManager(repo, lgr, clk, logger, cfg.HoldTTL).WithAudit(audit)
	queue := admission.NewQueue(repo, clk, logger, admission.Defaults{
		MaxConcurrent:      cfg.MaxConcurrent,
		ActiveSessionTTL:   cfg.ActiveSessionTTL,
		PromotionBatchSize: cfg.PromotionBatchSize,
	})

	handlers := httphandler.NewHandlers(cfg, lgr, holds, queue, redisCache, idemp, logger)
	r := httphandler.SetupRouter(handlers, logger, rl, idemp)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
