// Package worker runs training and forecast jobs delivered over the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/forecast"
)

// Forecaster is the subset of the forecast service the worker drives.
type Forecaster interface {
	Train(ctx context.Context, tenantID, branchID string, force bool) (*domain.ModelMetrics, error)
	Predict(ctx context.Context, tenantID, branchID string, horizon int, scenario string) ([]domain.PredictionResult, error)
}

// Worker consumes train and forecast jobs and publishes their results.
type Worker struct {
	bus        domain.EventBus
	forecaster Forecaster

	defaultHorizon  int
	defaultScenario string

	// tenants limits the jobs handled; nil means all.
	tenants map[string]bool
	group   string

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs limits the worker to these tenants' jobs. Empty means all.
	TenantIDs []string

	// QueueGroup, when set, shares jobs with other workers in the group.
	QueueGroup string

	// Defaults for forecast jobs that omit them.
	HorizonDays int
	Scenario    string
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, forecaster Forecaster) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:             eventBus,
		forecaster:      forecaster,
		defaultHorizon:  30,
		defaultScenario: domain.Realistic.Name,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start subscribes to the job topics on the global channel. With TenantIDs
// set, jobs for other tenants are skipped.
func (w *Worker) Start(cfg Config) error {
	if cfg.HorizonDays > 0 {
		w.defaultHorizon = cfg.HorizonDays
	}
	if cfg.Scenario != "" {
		w.defaultScenario = cfg.Scenario
	}
	w.group = cfg.QueueGroup
	if len(cfg.TenantIDs) > 0 {
		w.tenants = make(map[string]bool, len(cfg.TenantIDs))
		for _, id := range cfg.TenantIDs {
			w.tenants[id] = true
		}
	}

	if err := w.subscribe(domain.GlobalTenantID); err != nil {
		return err
	}

	slog.Info("worker started",
		"tenant_count", len(cfg.TenantIDs),
		"queue_group", cfg.QueueGroup,
	)
	return nil
}

func (w *Worker) subscribe(channel string) error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicTrainRequested: func(ctx context.Context, msg *domain.Message) error {
			return w.handleTrain(ctx, msg)
		},
		domain.TopicForecastRequested: func(ctx context.Context, msg *domain.Message) error {
			return w.handleForecast(ctx, msg)
		},
	}

	for _, topic := range []string{domain.TopicTrainRequested, domain.TopicForecastRequested} {
		sub, err := w.bus.QueueSubscribe(w.ctx, channel, topic, w.group, handlers[topic])
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()

		slog.Debug("worker subscribed",
			"tenant_id", channel,
			"topic", topic,
		)
	}
	return nil
}

// accepts reports whether the job's tenant is served by this worker.
func (w *Worker) accepts(tenantID string) (bool, error) {
	if tenantID == "" {
		return false, &domain.ValidationError{Field: "tenantId", Reason: "is required"}
	}
	return w.tenants == nil || w.tenants[tenantID], nil
}

func (w *Worker) handleTrain(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var job domain.TrainJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		slog.Error("failed to parse train job",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	tenantID := job.TenantID
	if ok, err := w.accepts(tenantID); !ok {
		return err
	}

	metrics, err := w.forecaster.Train(ctx, tenantID, job.BranchID, job.Force)
	if err != nil {
		slog.Error("training job failed",
			"tenant_id", tenantID,
			"branch_id", job.BranchID,
			"error", err,
		)
		return err
	}

	w.publish(ctx, tenantID, domain.TopicModelTrained, metrics)

	slog.Info("training job processed",
		"tenant_id", tenantID,
		"branch_id", job.BranchID,
		"data_points", metrics.DataPoints,
		"cached", metrics.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) handleForecast(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var job domain.ForecastJob
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		slog.Error("failed to parse forecast job",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	tenantID := job.TenantID
	if ok, err := w.accepts(tenantID); !ok {
		return err
	}
	if job.HorizonDays == 0 {
		job.HorizonDays = w.defaultHorizon
	}
	if job.Scenario == "" {
		job.Scenario = w.defaultScenario
	}

	days, err := w.forecaster.Predict(ctx, tenantID, job.BranchID, job.HorizonDays, job.Scenario)
	if err != nil {
		slog.Error("forecast job failed",
			"tenant_id", tenantID,
			"branch_id", job.BranchID,
			"scenario", job.Scenario,
			"error", err,
		)
		return err
	}

	summary := forecast.Summarize(job.Scenario, days)
	event := domain.ForecastEvent{
		TenantID:     tenantID,
		BranchID:     job.BranchID,
		Scenario:     job.Scenario,
		HorizonDays:  job.HorizonDays,
		FinalBalance: summary.FinalBalance,
		MinBalance:   summary.MinBalance,
		CriticalDays: criticalDays(days),
	}

	w.publish(ctx, tenantID, domain.TopicForecastCompleted, event)
	if len(event.CriticalDays) > 0 {
		w.publish(ctx, tenantID, domain.TopicRiskAlert, event)
	}

	slog.Info("forecast job processed",
		"tenant_id", tenantID,
		"branch_id", job.BranchID,
		"scenario", job.Scenario,
		"critical_days", len(event.CriticalDays),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func criticalDays(days []domain.PredictionResult) []time.Time {
	var out []time.Time
	for _, d := range days {
		if d.RiskLevel == domain.RiskCritical {
			out = append(out, d.Date)
		}
	}
	return out
}

func (w *Worker) publish(ctx context.Context, tenantID, topic string, v any) {
	if err := bus.PublishJSON(ctx, w.bus, tenantID, topic, v); err != nil {
		slog.Error("failed to publish result",
			"tenant_id", tenantID,
			"topic", topic,
			"error", err,
		)
	}
}

// Stop unsubscribes from every topic.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("workers stopped")
	return nil
}

// Stats describes the worker's live subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
