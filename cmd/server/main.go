package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reconcore/core/internal/auth"
	"github.com/reconcore/core/internal/clock"
	"github.com/reconcore/core/internal/config"
	reconhttp "github.com/reconcore/core/internal/http"
	"github.com/reconcore/core/internal/observability"
	"github.com/reconcore/core/internal/orchestrator"
	"github.com/reconcore/core/internal/provider"
	"github.com/reconcore/core/internal/provider/blockbook"
	"github.com/reconcore/core/internal/reconciliation"
	"github.com/reconcore/core/internal/storage/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadServerConfig()
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

	reorgThresholds, err := cfg.ReorgThresholds()
	if err != nil {
		return fmt.Errorf("parse reorg thresholds: %w", err)
	}

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

	clk := clock.Real{}
	orch := orchestrator.New(store, clk)
	reconSvc := reconciliation.New(store, registry, clk, reorgThresholds)

	authenticator := auth.NewAuthenticator(ctx, store)

	apiServer := reconhttp.NewAPIServer(
		reconhttp.NewWorkflowHandler(orch),
		reconhttp.NewReconciliationHandler(reconSvc),
		authenticator,
		reconhttp.ServerConfig{
			Host:              cfg.HTTP.Host,
			Port:              cfg.HTTP.Port,
			ReadTimeout:       cfg.HTTP.ReadTimeout,
			WriteTimeout:      cfg.HTTP.WriteTimeout,
			IdleTimeout:       cfg.HTTP.IdleTimeout,
			ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
			MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
			MaxBodyBytes:      cfg.HTTP.MaxBodyBytes,
		},
	)

	errResult := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errResult <- fmt.Errorf("serve http: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.InfoContext(ctx, "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(shutdownCtx, "http server shutdown timed out", "error", err)
		}
		if err := authenticator.Shutdown(shutdownCtx); err != nil {
			slog.WarnContext(shutdownCtx, "authenticator shutdown timed out", "error", err)
		}
		return nil
	case err := <-errResult:
		return err
	}
}
