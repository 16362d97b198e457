package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/delay"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// AccuracyWindow is how many settled predictions the accuracy report reads.
const AccuracyWindow = 30

var tracer = otel.Tracer("kestrel-forecast")

// Service exposes the train / predict / compare operations.
//
// The delay model is trained and scored here but the simulator does not
// consume its predictions: forecasts depend only on pending items, rules and
// the scenario.
type Service struct {
	repo      domain.Repository
	trainer   *delay.Trainer
	simulator *Simulator
	now       func() time.Time
}

// NewService creates a forecast service.
func NewService(repo domain.Repository, trainer *delay.Trainer, simulator *Simulator) *Service {
	return &Service{
		repo:      repo,
		trainer:   trainer,
		simulator: simulator,
		now:       time.Now,
	}
}

// Train fits the tenant/branch delay model. Sparse history yields degraded
// metrics, not an error.
func (s *Service) Train(ctx context.Context, tenantID, branchID string, force bool) (*domain.ModelMetrics, error) {
	ctx, span := tracer.Start(ctx, "forecast.train",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("branch.id", branchID),
			attribute.Bool("force", force),
		),
	)
	defer span.End()

	metrics, err := s.trainer.Train(ctx, tenantID, branchID, force)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("data_points", metrics.DataPoints),
		attribute.Bool("cached", metrics.Cached),
	)
	return metrics, nil
}

// Predict runs one forecast and stores every day. Either the whole sequence
// is returned and stored or an error is.
func (s *Service) Predict(ctx context.Context, tenantID, branchID string, horizon int, scenarioName string) ([]domain.PredictionResult, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantId", Reason: "is required"}
	}
	if err := ValidateHorizon(horizon); err != nil {
		return nil, err
	}
	scenario, err := domain.ScenarioByName(scenarioName)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "forecast.predict",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("branch.id", branchID),
			attribute.Int("horizon_days", horizon),
			attribute.String("scenario", scenario.Name),
		),
	)
	defer span.End()

	start := time.Now()
	days, err := s.simulator.Run(ctx, tenantID, branchID, horizon, scenario)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	createdAt := s.now().UTC()
	for _, d := range days {
		row := &domain.StoredPrediction{
			PredictionResult: d,
			TenantID:         tenantID,
			BranchID:         branchID,
			ModelVersion:     delay.Version,
			CreatedAt:        createdAt,
		}
		if err := s.repo.UpsertPrediction(ctx, tenantID, row); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to store prediction for %s: %w", d.Date.Format(domain.DateLayout), err)
		}
	}

	slog.Info("forecast completed",
		"tenant_id", tenantID,
		"branch_id", branchID,
		"scenario", scenario.Name,
		"horizon_days", horizon,
		"final_balance", days[len(days)-1].PredictedBalance,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return days, nil
}

// Compare runs every scenario preset in order and summarizes each.
// Nothing is stored.
func (s *Service) Compare(ctx context.Context, tenantID, branchID string, horizon int) (map[string]domain.ScenarioSummary, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantId", Reason: "is required"}
	}
	if err := ValidateHorizon(horizon); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "forecast.compare",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.Int("horizon_days", horizon),
		),
	)
	defer span.End()

	scenarios := domain.Scenarios()
	out := make(map[string]domain.ScenarioSummary, len(scenarios))
	for _, scenario := range scenarios {
		days, err := s.simulator.Run(ctx, tenantID, branchID, horizon, scenario)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
		}
		out[scenario.Name] = Summarize(scenario.Name, days)
	}
	return out, nil
}

// Accuracy reports the latest training run and how recent forecasts held up.
func (s *Service) Accuracy(ctx context.Context, tenantID, branchID string) (*domain.AccuracyReport, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantId", Reason: "is required"}
	}

	report := &domain.AccuracyReport{Recent: []*domain.StoredPrediction{}}

	latest, err := s.repo.LatestModelMetrics(ctx, tenantID, branchID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load model metrics: %w", err)
	}
	report.Latest = latest

	recent, err := s.repo.ListPredictionsWithActuals(ctx, tenantID, branchID, AccuracyWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load scored predictions: %w", err)
	}

	var sum float64
	var scored int
	for _, p := range recent {
		if p.AccuracyScore != nil {
			sum += *p.AccuracyScore
			scored++
		}
	}
	if scored > 0 {
		report.AverageAccuracy = sum / float64(scored)
	}
	if recent != nil {
		report.Recent = recent
	}
	return report, nil
}

// RecordActual stores the settled balance for a forecast day and scores
// every scenario forecast for that day against it.
func (s *Service) RecordActual(ctx context.Context, tenantID, branchID string, day time.Time, actual float64) error {
	if tenantID == "" {
		return &domain.ValidationError{Field: "tenantId", Reason: "is required"}
	}
	if day.IsZero() {
		return &domain.ValidationError{Field: "date", Reason: "is required"}
	}
	if err := s.repo.RecordActualBalance(ctx, tenantID, branchID, day, actual); err != nil {
		return err
	}
	slog.Info("actual balance recorded",
		"tenant_id", tenantID,
		"branch_id", branchID,
		"date", domain.Day(day).Format(domain.DateLayout),
	)
	return nil
}
