package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/reconcore/core/internal/clock"
	"github.com/reconcore/core/internal/config"
	"github.com/reconcore/core/internal/observability"
	"github.com/reconcore/core/internal/provider"
	"github.com/reconcore/core/internal/provider/blockbook"
	"github.com/reconcore/core/internal/storage/postgres"
	"github.com/reconcore/core/internal/txprocessor"
	"github.com/reconcore/core/internal/worker"
)

// sweepLeaseRunType names the scheduler_leases row contended by every
// worker replica's stale-sweep leader-election loop.
const sweepLeaseRunType = "reconciliation-stale-sweep"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tp, err := observability.InitTracerProvider(ctx, observability.Config{
		Enabled:     cfg.Observability.OTelEnabled,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init tracer provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "failed to shutdown tracer provider", "error", err)
		}
	}()

	store, err := postgres.NewStoreWithConfig(ctx, postgres.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	defer store.Close()

	slog.InfoContext(ctx, "storage initialized")

	registry := provider.StaticRegistry{Default: blockbook.New(cfg.Provider.BlockbookBaseURL)}
	processor := txprocessor.New(store, nil)

	workerCfg, err := cfg.WorkerSettings()
	if err != nil {
		return fmt.Errorf("worker settings: %w", err)
	}

	w := worker.New(store, registry, processor, clock.Real{}, workerCfg)

	workerID := uuid.NewString()
	go runSweepLeaderElection(ctx, store, workerID)

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	<-ctx.Done()
	slog.InfoContext(ctx, "shutting down reconciliation worker")
	w.Stop(cfg.ShutdownTimeout)
	<-done
	return nil
}

// runSweepLeaderElection periodically contends for the stale-sweep lease so
// operators can see which worker replica is the current leader; the sweep
// itself runs on every replica regardless (SweepStaleJobs is an idempotent
// UPDATE), this loop only surfaces leadership for observability.
func runSweepLeaderElection(ctx context.Context, store *postgres.Store, workerID string) {
	ticker := time.NewTicker(worker.StaleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			release, acquired, err := store.TryAcquireExclusiveRun(ctx, sweepLeaseRunType, workerID, worker.StaleSweepInterval*2)
			if err != nil {
				slog.WarnContext(ctx, "sweep lease acquisition failed", "error", err)
				continue
			}
			if acquired {
				slog.DebugContext(ctx, "holding stale-sweep lease", "worker_id", workerID)
				release()
			}
		}
	}
}
