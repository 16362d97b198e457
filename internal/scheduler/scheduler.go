// Package scheduler enqueues recurring training and forecast jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// TenantSource lists the tenants a recurring job applies to.
type TenantSource interface {
	ListActiveTenants(ctx context.Context, since time.Time) ([]string, error)
	ListTenantsWithPending(ctx context.Context) ([]string, error)
}

// Scheduler publishes jobs to the bus on a cron schedule. The worker runs them.
type Scheduler struct {
	cron    *cron.Cron
	tenants TenantSource
	bus     domain.EventBus
	cfg     domain.SchedulerConfig
	ctx     context.Context
	now     func() time.Time
}

// New creates a scheduler. Cron expressions carry a leading seconds field.
func New(ctx context.Context, tenants TenantSource, eventBus domain.EventBus, cfg domain.SchedulerConfig) *Scheduler {
	if cfg.ActivityDays <= 0 {
		cfg.ActivityDays = 30
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 30
	}
	if cfg.ScenarioName == "" {
		cfg.ScenarioName = domain.Realistic.Name
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		tenants: tenants,
		bus:     eventBus,
		cfg:     cfg,
		ctx:     ctx,
		now:     time.Now,
	}
}

// Register adds the training and forecast jobs.
func (s *Scheduler) Register() error {
	if _, err := s.cron.AddFunc(s.cfg.TrainCron, s.trainTask); err != nil {
		return fmt.Errorf("register training job: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.ForecastCron, s.forecastTask); err != nil {
		return fmt.Errorf("register forecast job: %w", err)
	}
	return nil
}

// Start starts the cron loop, running both jobs once first if configured.
func (s *Scheduler) Start() {
	if s.cfg.RunOnStartup {
		s.trainTask()
		s.forecastTask()
	}
	s.cron.Start()
	slog.Info("scheduler started",
		"train_cron", s.cfg.TrainCron,
		"forecast_cron", s.cfg.ForecastCron,
	)
}

// Stop stops the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// EnqueueTraining publishes a forced training job for every tenant active
// in the activity window and returns how many were queued.
func (s *Scheduler) EnqueueTraining(ctx context.Context) (int, error) {
	since := s.now().AddDate(0, 0, -s.cfg.ActivityDays)
	tenants, err := s.tenants.ListActiveTenants(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list active tenants: %w", err)
	}

	queued := 0
	for _, tenantID := range tenants {
		if err := s.publish(ctx, domain.TopicTrainRequested, domain.TrainJob{TenantID: tenantID, Force: true}); err != nil {
			slog.Error("failed to enqueue training",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		queued++
	}
	return queued, nil
}

// EnqueueForecasts publishes a forecast job for every tenant with pending
// items and returns how many were queued.
func (s *Scheduler) EnqueueForecasts(ctx context.Context) (int, error) {
	tenants, err := s.tenants.ListTenantsWithPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tenants with pending items: %w", err)
	}

	queued := 0
	for _, tenantID := range tenants {
		job := domain.ForecastJob{
			TenantID:    tenantID,
			Scenario:    s.cfg.ScenarioName,
			HorizonDays: s.cfg.HorizonDays,
		}
		if err := s.publish(ctx, domain.TopicForecastRequested, job); err != nil {
			slog.Error("failed to enqueue forecast",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		queued++
	}
	return queued, nil
}

func (s *Scheduler) publish(ctx context.Context, topic string, job any) error {
	return bus.PublishJSON(ctx, s.bus, domain.GlobalTenantID, topic, job)
}

func (s *Scheduler) trainTask() {
	n, err := s.EnqueueTraining(s.ctx)
	if err != nil {
		slog.Error("scheduled training failed", "error", err)
		return
	}
	slog.Info("scheduled training enqueued", "tenant_count", n)
}

func (s *Scheduler) forecastTask() {
	n, err := s.EnqueueForecasts(s.ctx)
	if err != nil {
		slog.Error("scheduled forecast failed", "error", err)
		return
	}
	slog.Info("scheduled forecasts enqueued", "tenant_count", n)
}
