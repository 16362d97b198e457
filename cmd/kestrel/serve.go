package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scheduler"
	"github.com/opensource-finance/kestrel/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, async worker and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	a, err := newApp(cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	// Async worker (Pro tier or explicitly enabled)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(a.bus, a.forecasts)
		workerCfg := worker.Config{
			TenantIDs:   cfg.Worker.TenantIDs,
			QueueGroup:  cfg.Worker.QueueGroup,
			HorizonDays: cfg.Forecast.DefaultHorizonDays,
		}
		if err := asyncWorker.Start(workerCfg); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		if asyncWorker == nil {
			slog.Warn("scheduler enabled without a local worker; jobs wait for a remote consumer")
		}
		sched = scheduler.New(ctx, a.repo, a.bus, cfg.Scheduler)
		if err := sched.Register(); err != nil {
			return err
		}
		sched.Start()
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:           a.repo,
		Cache:          a.cache,
		Bus:            a.bus,
		Forecasts:      a.forecasts,
		Rules:          a.rules,
		Version:        Version,
		DefaultHorizon: cfg.Forecast.DefaultHorizonDays,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("server failed", "error", err)
	}
	slog.Info("shutting down...")

	// Stop producers before consumers
	if sched != nil {
		sched.Stop()
	}
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                 KESTREL                   |")
	fmt.Println("  |      Cash-Flow Forecasting Engine         |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /forecast/predict    - Forecast daily balances")
	fmt.Println("    POST   /forecast/scenarios  - Compare scenario presets")
	fmt.Println("    POST   /forecast/train      - Train the delay model")
	fmt.Println("    GET    /forecast/accuracy   - Model and forecast accuracy")
	fmt.Println("    POST   /forecast/actuals    - Record a settled balance")
	fmt.Println("    POST   /forecast/jobs       - Queue a train or forecast job")
	fmt.Println("    POST   /transactions        - Store a ledger item")
	fmt.Println("    GET    /rules               - List active rules")
	fmt.Println("    POST   /rules               - Create a rule")
	fmt.Println("    PATCH  /rules/{id}          - Update a rule")
	fmt.Println("    DELETE /rules/{id}          - Deactivate a rule")
	fmt.Println("    POST   /rules/impact        - Estimate a rule's impact")
	fmt.Println("    GET    /health              - Health check")
	fmt.Println()
}
