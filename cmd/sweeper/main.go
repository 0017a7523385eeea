package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ticketline/admission/internal/adapters/crdb"
	mongoadapter "github.com/ticketline/admission/internal/adapters/mongo"
	"github.com/ticketline/admission/internal/admission"
	"github.com/ticketline/admission/internal/clock"
	"github.com/ticketline/admission/internal/config"
	"github.com/ticketline/admission/internal/hold"
	"github.com/ticketline/admission/internal/ledger"
	"github.com/ticketline/admission/internal/observability"
	"github.com/ticketline/admission/internal/sweeper"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

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

	clk := clock.NewSystem()
	lgr := ledger.New(repo, logger)
	holds := hold.NewManager(repo, lgr, clk, logger, cfg.HoldTTL).WithAudit(audit)
	queue := admission.NewQueue(repo, clk, logger, admission.Defaults{
		MaxConcurrent:      cfg.MaxConcurrent,
		ActiveSessionTTL:   cfg.ActiveSessionTTL,
		PromotionBatchSize: cfg.PromotionBatchSize,
	})

	sw := sweeper.New(repo, repo, holds, queue, clk, logger, cfg.SweepInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sw.Run(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown sweeper")
}
