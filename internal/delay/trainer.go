package delay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/repository"
)

const (
	// MinTrainingRows is the smallest history a model is fitted on.
	MinTrainingRows = 100

	// AccuracyToleranceDays is how far off a holdout prediction may be and
	// still count as accurate.
	AccuracyToleranceDays = 3.0

	holdoutFraction = 0.2
)

// Trainer fits delay models from settlement history.
// It holds no per-tenant state; the cache and repository carry it.
type Trainer struct {
	repo      domain.Repository
	snapshots *cache.SnapshotStore
	params    Params
	freshness time.Duration
	now       func() time.Time

	// runs coalesces concurrent Train calls for the same tenant, branch and
	// force flag into one fit.
	runs singleflight.Group
}

// NewTrainer creates a trainer. cache may be nil, in which case the freshness
// guard falls back to the metrics history.
func NewTrainer(repo domain.Repository, c domain.Cache, freshness time.Duration) *Trainer {
	if freshness <= 0 {
		freshness = 24 * time.Hour
	}
	t := &Trainer{
		repo:      repo,
		params:    DefaultParams(),
		freshness: freshness,
		now:       time.Now,
	}
	if c != nil {
		t.snapshots = cache.NewSnapshotStore(c, freshness)
	}
	return t
}

// Train fits a model for the tenant/branch and records its metrics.
//
// Fewer than MinTrainingRows eligible rows yields degraded metrics (accuracy 0)
// without an error and without persisting anything. Unless force is set, a run
// younger than the freshness window is returned instead of retraining.
func (t *Trainer) Train(ctx context.Context, tenantID, branchID string, force bool) (*domain.ModelMetrics, error) {
	if tenantID == "" {
		return nil, &domain.ValidationError{Field: "tenantId", Reason: "is required"}
	}
	key := fmt.Sprintf("%s/%s/%t", tenantID, branchID, force)
	// The run outlives any single caller; joiners must not see its cancel.
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := t.runs.Do(key, func() (any, error) {
		return t.train(runCtx, tenantID, branchID, force)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("joined in-flight training run",
			"tenant_id", tenantID,
			"branch_id", branchID,
		)
	}
	out := *v.(*domain.ModelMetrics)
	return &out, nil
}

func (t *Trainer) train(ctx context.Context, tenantID, branchID string, force bool) (*domain.ModelMetrics, error) {
	start := t.now()

	if !force {
		recent, err := t.recentMetrics(ctx, tenantID, branchID)
		if err != nil {
			return nil, err
		}
		if recent != nil {
			slog.Debug("model is fresh, skipping training",
				"tenant_id", tenantID,
				"branch_id", branchID,
				"trained_at", recent.TrainingDate,
			)
			return recent, nil
		}
	}

	since := start.AddDate(-1, 0, 0)
	txs, err := t.repo.ListSettledTransactions(ctx, tenantID, branchID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load settlement history: %w", err)
	}

	if len(txs) < MinTrainingRows {
		slog.Warn("insufficient history for training",
			"tenant_id", tenantID,
			"branch_id", branchID,
			"data_points", len(txs),
			"required", MinTrainingRows,
		)
		if force {
			t.dropSnapshot(ctx, tenantID, branchID)
		}
		return &domain.ModelMetrics{
			TenantID:     tenantID,
			BranchID:     branchID,
			TrainingDate: start.UTC(),
			DataPoints:   len(txs),
			ModelVersion: Version,
		}, nil
	}

	model, metrics, err := t.fitAndScore(txs)
	if err != nil {
		return nil, fmt.Errorf("failed to fit delay model: %w", err)
	}
	metrics.ID = uuid.New().String()
	metrics.TenantID = tenantID
	metrics.BranchID = branchID
	metrics.TrainingDate = start.UTC()

	if err := t.repo.SaveModelMetrics(ctx, tenantID, metrics); err != nil {
		return nil, fmt.Errorf("failed to save model metrics: %w", err)
	}

	t.storeSnapshot(ctx, tenantID, branchID, model, metrics)

	slog.Info("delay model trained",
		"tenant_id", tenantID,
		"branch_id", branchID,
		"data_points", metrics.DataPoints,
		"accuracy", metrics.AccuracyScore,
		"mae", metrics.MAE,
		"rmse", metrics.RMSE,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return metrics, nil
}

// fitAndScore shuffles with the fixed seed, holds out 20% and fits on the rest.
func (t *Trainer) fitAndScore(txs []*domain.Transaction) (*Model, *domain.ModelMetrics, error) {
	X, y := features.Extract(txs)
	n := len(X)

	perm := rand.New(rand.NewSource(t.params.Seed)).Perm(n)
	holdout := int(math.Ceil(holdoutFraction * float64(n)))

	trainX := make([][]float64, 0, n-holdout)
	trainY := make([]float64, 0, n-holdout)
	for _, i := range perm[holdout:] {
		trainX = append(trainX, X[i])
		trainY = append(trainY, y[i])
	}

	model, err := Fit(trainX, trainY, t.params)
	if err != nil {
		return nil, nil, err
	}

	var within int
	var absSum, sqSum float64
	for _, i := range perm[:holdout] {
		e := model.Predict(X[i]) - y[i]
		if math.Abs(e) <= AccuracyToleranceDays {
			within++
		}
		absSum += math.Abs(e)
		sqSum += e * e
	}
	h := float64(holdout)

	return model, &domain.ModelMetrics{
		AccuracyScore: 100 * float64(within) / h,
		MAE:           absSum / h,
		RMSE:          math.Sqrt(sqSum / h),
		DataPoints:    n,
		ModelVersion:  Version,
	}, nil
}

// recentMetrics returns the last run if it is inside the freshness window.
func (t *Trainer) recentMetrics(ctx context.Context, tenantID, branchID string) (*domain.ModelMetrics, error) {
	var last *domain.ModelMetrics

	if t.snapshots != nil {
		snap, err := t.snapshots.Load(ctx, tenantID, branchID)
		if err != nil {
			slog.Warn("failed to read model snapshot",
				"tenant_id", tenantID,
				"branch_id", branchID,
				"error", err,
			)
		} else if snap != nil {
			last = &snap.Metrics
		}
	} else {
		m, err := t.repo.LatestModelMetrics(ctx, tenantID, branchID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to load model metrics: %w", err)
		}
		last = m
	}

	if last == nil || t.now().Sub(last.TrainingDate) >= t.freshness {
		return nil, nil
	}
	last.Cached = true
	return last, nil
}

func (t *Trainer) storeSnapshot(ctx context.Context, tenantID, branchID string, model *Model, metrics *domain.ModelMetrics) {
	if t.snapshots == nil {
		return
	}
	artifact, err := encodeModel(model)
	if err == nil {
		err = t.snapshots.Save(ctx, tenantID, branchID, domain.ModelSnapshot{
			Metrics:  *metrics,
			Artifact: artifact,
		})
	}
	if err != nil {
		slog.Warn("failed to cache model snapshot",
			"tenant_id", tenantID,
			"branch_id", branchID,
			"error", err,
		)
	}
}

// dropSnapshot forgets a model whose history no longer supports a fit.
func (t *Trainer) dropSnapshot(ctx context.Context, tenantID, branchID string) {
	if t.snapshots == nil {
		return
	}
	if err := t.snapshots.Invalidate(ctx, tenantID, branchID); err != nil {
		slog.Warn("failed to invalidate model snapshot",
			"tenant_id", tenantID,
			"branch_id", branchID,
			"error", err,
		)
	}
}

// LoadModel returns the cached model for a tenant/branch, if any.
func (t *Trainer) LoadModel(ctx context.Context, tenantID, branchID string) (*Model, *domain.ModelMetrics, error) {
	if t.snapshots == nil {
		return nil, nil, nil
	}
	snap, err := t.snapshots.Load(ctx, tenantID, branchID)
	if err != nil || snap == nil {
		return nil, nil, err
	}
	model, err := decodeModel(snap.Artifact)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode model snapshot: %w", err)
	}
	return model, &snap.Metrics, nil
}
