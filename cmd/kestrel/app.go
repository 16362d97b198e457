package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/delay"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/forecast"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// app holds the wired services shared by every command.
type app struct {
	cfg       *domain.Config
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	rules     *rules.Service
	forecasts *forecast.Service
}

// newApp initializes storage, cache, bus and the forecasting services.
// withBus is false for one-shot commands that never publish.
func newApp(cfg *domain.Config, withBus bool) (*app, error) {
	a := &app{cfg: cfg}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	a.repo = repo
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	c, err := cache.New(cfg.Cache)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	a.cache = c
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	if withBus {
		b, err := bus.New(cfg.EventBus)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize event bus: %w", err)
		}
		a.bus = b
		slog.Info("event bus initialized", "type", cfg.EventBus.Type)
	}

	engine, err := rules.NewEngine()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	a.rules = rules.NewService(repo, engine, cfg.Forecast.ImpactSampleSize)

	simulator := forecast.NewSimulator(repo, forecast.NewCalculator(engine), forecast.NewRecommender(cfg.Forecast.Currency))
	trainer := delay.NewTrainer(repo, c, cfg.Forecast.ModelFreshness)
	a.forecasts = forecast.NewService(repo, trainer, simulator)

	return a, nil
}

func (a *app) close() error {
	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	return errors.Join(errs...)
}
