package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-farm-escrow/internal/config"
	"github.com/ariefcatur/go-farm-escrow/internal/httpx"
	kafkax "github.com/ariefcatur/go-farm-escrow/internal/kafka"
	"github.com/ariefcatur/go-farm-escrow/internal/listings"
	"github.com/ariefcatur/go-farm-escrow/internal/logger"
	"github.com/ariefcatur/go-farm-escrow/internal/postgres"
	"github.com/ariefcatur/go-farm-escrow/internal/redisx"
	"github.com/ariefcatur/go-farm-escrow/internal/storage"
)

// openStore picks the listing store backend. The returned func releases it.
func openStore(ctx context.Context, cfg config.Config) (listings.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		return storage.NewRegionStore(storage.NewMemDB()), func() {}, nil
	case "leveldb":
		db, err := storage.NewLevelDB(cfg.LevelDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open leveldb %s: %w", cfg.LevelDBPath, err)
		}
		st := storage.NewRegionStore(db)
		return st, func() { _ = st.Close() }, nil
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("db schema: %w", err)
		}
		return &postgres.Store{DB: pool}, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}

func main() {
	cfg := config.Load()
	logger.InitWithFile(cfg.ServiceName, cfg.Env, cfg.LogLevel, cfg.LogFile)
	defer logger.Sync()
	log := logger.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal("store", zap.Error(err))
	}
	defer closeStore()

	// Redis is optional: without it there is no status cache and no idempotency.
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	var (
		cache *redisx.StatusCache
		idem  *redisx.Idempotency
	)
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Warn("redis unavailable, running without cache", zap.Error(err))
	} else {
		cache = redisx.NewStatusCache(rdb)
		idem = redisx.NewIdempotency(rdb)
	}

	// Kafka producer, one writer for every listing topic
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log.Named("producer"))
	prod.Start(ctx)
	emitter := &kafkax.Emitter{
		Producer: prod,
		Service:  cfg.ServiceName,
		TraceID:  middleware.GetReqID,
		Log:      log.Named("emitter"),
	}

	ledger := listings.NewLedger(store, emitter, log.Named("ledger"), listings.Options{
		MaxRating:            cfg.MaxRating,
		RequireFundedRelease: cfg.RequireFundedRelease,
	})

	router := httpx.NewRouter(log.Named("http"))
	lh := &httpx.ListingsHandler{
		Ledger:  ledger,
		Cache:   cache,
		Idem:    idem,
		Timeout: cfg.RequestTimeout,
		Log:     log.Named("http"),
	}
	lh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox so the writer flushes
	cancel()          // stop producer loop
	prod.WaitClosed() // drain
}
