package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"landledger/internal/certificate"
	"landledger/internal/events"
	jwttoken "landledger/internal/jwt_token"
	"landledger/internal/ledger"
	ledgermetrics "landledger/internal/ledger/metrics"
	"landledger/internal/platform/config"
	"landledger/internal/platform/httpserver"
	"landledger/internal/platform/logger"
	platformredis "landledger/internal/platform/redis"
	"landledger/internal/registry/handler"
	registrymetrics "landledger/internal/registry/metrics"
	"landledger/internal/registry/pending"
	"landledger/internal/registry/service"
	"landledger/internal/registry/store"
	"landledger/migrations"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store: PostgreSQL when configured, in-memory otherwise.
	var recordStore store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("database pool init failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := migrations.Apply(ctx, pool); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		recordStore = store.NewPostgresStore(pool)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory store")
		recordStore = store.NewInMemoryStore()
	}

	// Pending-handle store: Redis when configured so confirmation handles
	// survive restarts, in-memory otherwise.
	var pendingStore pending.Store = pending.NewInMemoryStore(pending.DefaultTTL)
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		pendingStore = pending.NewRedisStore(redisClient.Client, pending.DefaultTTL)
	}

	ledgerClient := ledger.NewMemory()
	if cfg.LedgerLatency > 0 {
		ledgerClient.SetLatency(cfg.LedgerLatency)
	}

	var sink events.Sink = events.NewMemorySink()
	if len(cfg.Kafka.Seeds) > 0 {
		kafkaSink, err := events.NewKafkaSink(cfg.Kafka.Seeds, cfg.Kafka.Topic)
		if err != nil {
			log.Error("kafka init failed", "error", err)
			os.Exit(1)
		}
		sink = kafkaSink
	}
	publisher := events.NewPublisher(sink, log, events.WithAsyncBuffer(256))
	defer publisher.Close()

	registry := service.New(recordStore, ledgerClient, pendingStore,
		service.WithLogger(log),
		service.WithMetrics(registrymetrics.New()),
		service.WithLedgerMetrics(ledgermetrics.New()),
		service.WithEvents(publisher),
		service.WithAwaitTimeout(cfg.AwaitTimeout),
	)
	verifier := certificate.NewVerifier(ledgerClient, recordStore)
	tokens := jwttoken.NewJWTService(cfg.JWTSigningKey, "landledger")

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	handler.New(registry, verifier, tokens, log).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting landledger", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
