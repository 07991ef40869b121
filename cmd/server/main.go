// Command server starts the job platform's HTTP ingest/status/vector API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpserver "github.com/fairyhunter13/job-platform/internal/adapter/httpserver"
	"github.com/fairyhunter13/job-platform/internal/adapter/observability"
	"github.com/fairyhunter13/job-platform/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/job-platform/internal/app"
	"github.com/fairyhunter13/job-platform/internal/broker"
	"github.com/fairyhunter13/job-platform/internal/config"
	"github.com/fairyhunter13/job-platform/internal/dispatcher"
	"github.com/fairyhunter13/job-platform/internal/embedding/mock"
	"github.com/fairyhunter13/job-platform/internal/ingest"
	"github.com/fairyhunter13/job-platform/internal/status"
	"github.com/fairyhunter13/job-platform/internal/vectorstore"
	qdrantcli "github.com/fairyhunter13/job-platform/internal/vectorstore/qdrant"
)

const defaultCollection = "job_platform_vectors"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	ledger := postgres.NewLedgerStore(pool)
	outbox := postgres.NewOutboxStore(pool)

	if cfg.OutboxRetentionEnabled {
		retention := postgres.NewRetentionService(outbox, cfg.OutboxRetentionMaxAge, cfg.OutboxRetentionInterval)
		go retention.Run(ctx)
		slog.Info("outbox retention sweeper started", slog.Duration("max_age", cfg.OutboxRetentionMaxAge))
	}

	b, err := broker.New(cfg.BrokerDriver, cfg.KafkaBrokers, cfg.RedisURL)
	if err != nil {
		slog.Error("broker init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = b.Close() }()

	disp := dispatcher.New(outbox, b, cfg.OutboxDispatchInterval(), cfg.OutboxClaimBatchSize)
	go disp.Run(ctx)
	slog.Info("outbox dispatcher started", slog.String("broker_driver", cfg.BrokerDriver))

	ingestSvc := ingest.New(ledger)
	statusReader := status.NewWithMode(ledger, cfg.StatusVocabularyMode)

	embedder := mock.New(256)
	var vstore vectorstore.Store
	if cfg.QdrantURL != "" {
		vstore = qdrantcli.New(cfg.QdrantURL, cfg.QdrantAPIKey)
	}

	dbCheck, qdrantCheck := app.BuildReadinessChecks(cfg, pool)

	srv := httpserver.NewServer(cfg, ingestSvc, statusReader, embedder, vstore, defaultCollection, dbCheck, qdrantCheck)
	tokens := httpserver.NewTokenManager(cfg)
	handler := app.BuildRouter(cfg, srv, tokens)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
