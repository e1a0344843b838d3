package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-farm-escrow/internal/config"
	kafkax "github.com/ariefcatur/go-farm-escrow/internal/kafka"
	"github.com/ariefcatur/go-farm-escrow/internal/listings"
	"github.com/ariefcatur/go-farm-escrow/internal/logger"
	"github.com/ariefcatur/go-farm-escrow/internal/postgres"
	"github.com/ariefcatur/go-farm-escrow/internal/redisx"
	"github.com/ariefcatur/go-farm-escrow/internal/settlement"
)

func main() {
	cfg := config.Load()
	name := cfg.ServiceName + "-settlement"
	logger.InitWithFile(name, cfg.Env, cfg.LogLevel, cfg.LogFile)
	defer logger.Sync()
	log := logger.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatal("db schema", zap.Error(err))
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Warn("redis unavailable, dedup falls back to the database", zap.Error(err))
	}

	svc := &settlement.Service{
		Recorder:    &postgres.SettlementRepo{DB: db},
		Redis:       rdb,
		ServiceName: name,
		Log:         log.Named("settlement"),
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.SettlementGroup, listings.TopicPaymentReleased,
		cfg.SettlementWorkers, log.Named("consumer"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.S().Infow("settlement consumer started",
			"group", cfg.SettlementGroup,
			"topic", listings.TopicPaymentReleased,
			"workers", cfg.SettlementWorkers,
		)
		if err := cons.Start(ctx, svc.HandlePaymentReleased); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info("shutting down consumer")
	case <-ctx.Done():
	}
	cancel()
	<-done
}
