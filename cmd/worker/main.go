// Command worker starts the job platform's worker runtime: it subscribes
// to the broker and drives registered task handlers against the ledger.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fairyhunter13/job-platform/internal/adapter/observability"
	"github.com/fairyhunter13/job-platform/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/job-platform/internal/broker"
	"github.com/fairyhunter13/job-platform/internal/config"
	"github.com/fairyhunter13/job-platform/internal/embedding/mock"
	"github.com/fairyhunter13/job-platform/internal/handler/vectorjob"
	"github.com/fairyhunter13/job-platform/internal/sweeper"
	"github.com/fairyhunter13/job-platform/internal/vectorstore"
	qdrantcli "github.com/fairyhunter13/job-platform/internal/vectorstore/qdrant"
	"github.com/fairyhunter13/job-platform/internal/worker"
)

const defaultCollection = "job_platform_vectors"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	b, err := broker.New(cfg.BrokerDriver, cfg.KafkaBrokers, cfg.RedisURL)
	if err != nil {
		slog.Error("broker init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = b.Close() }()

	embedder := mock.New(256)
	var vstore vectorstore.Store
	if cfg.QdrantURL != "" {
		vstore = qdrantcli.New(cfg.QdrantURL, cfg.QdrantAPIKey)
	}

	rt := worker.New(ledger, b, cfg.WorkerMinBackoff(), cfg.WorkerMaxBackoff())
	rt.Register(vectorjob.New("vector.embed", embedder, vstore, defaultCollection))
	rt.Register(vectorjob.New("vector.mock", embedder, vstore, defaultCollection))

	if cfg.SweeperEnabled {
		sw := sweeper.New(ledger, cfg.SweeperMaxRunningAge, cfg.SweeperInterval)
		go sw.Run(ctx)
		slog.Info("stuck-job sweeper started", slog.Duration("max_running_age", cfg.SweeperMaxRunningAge))
	}

	var wg sync.WaitGroup
	for taskName := range rt.Handlers {
		taskName := taskName
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("worker subscribing to queue", slog.String("task_name", taskName))
			if err := rt.Run(ctx, taskName); err != nil && ctx.Err() == nil {
				slog.Error("worker queue subscription ended", slog.String("task_name", taskName), slog.Any("error", err))
			}
		}()
	}

	slog.Info("worker started", slog.String("broker_driver", cfg.BrokerDriver))
	<-ctx.Done()
	slog.Info("shutdown signal received, waiting for in-flight deliveries")
	wg.Wait()
	slog.Info("worker stopped")
}
