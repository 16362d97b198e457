package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	activeDayConfidence = 0.8
	quietDayConfidence  = 0.5
	neutralInflowRatio  = 0.5
)

// Horizon bounds, in days.
const (
	MinHorizonDays = 7
	MaxHorizonDays = 90
)

// ValidateHorizon rejects horizons outside [MinHorizonDays, MaxHorizonDays].
func ValidateHorizon(days int) error {
	if days < MinHorizonDays || days > MaxHorizonDays {
		return &domain.ValidationError{
			Field:  "horizonDays",
			Reason: fmt.Sprintf("must be between %d and %d", MinHorizonDays, MaxHorizonDays),
			Value:  days,
		}
	}
	return nil
}

// Simulator folds pending transactions into a day-by-day balance.
// It keeps no state between runs.
type Simulator struct {
	repo        domain.Repository
	calc        *Calculator
	recommender *Recommender
	now         func() time.Time
}

// NewSimulator creates a simulator.
func NewSimulator(repo domain.Repository, calc *Calculator, recommender *Recommender) *Simulator {
	return &Simulator{
		repo:        repo,
		calc:        calc,
		recommender: recommender,
		now:         time.Now,
	}
}

// Run projects the balance for horizon days starting today under scenario.
// The result has exactly horizon entries in date order.
func (s *Simulator) Run(ctx context.Context, tenantID, branchID string, horizon int, scenario domain.Scenario) ([]domain.PredictionResult, error) {
	if err := ValidateHorizon(horizon); err != nil {
		return nil, err
	}

	today := domain.Day(s.now())
	until := today.AddDate(0, 0, horizon)

	balance, err := s.repo.ClearedBalance(ctx, tenantID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cleared balance: %w", err)
	}
	pending, err := s.repo.ListPendingTransactions(ctx, tenantID, branchID, until)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending transactions: %w", err)
	}
	active, err := s.repo.ListActiveRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	buckets := bucketByDay(pending, scenario, today)

	results := make([]domain.PredictionResult, 0, horizon)
	for i := 0; i < horizon; i++ {
		date := today.AddDate(0, 0, i)
		txs := buckets[date]

		var inflow, outflow float64
		for _, tx := range txs {
			weighted := tx.Amount * s.calc.Confidence(tx, active, &scenario)
			if tx.IsInflow() {
				inflow += weighted
			} else {
				outflow += weighted
			}
		}
		balance += inflow - outflow

		ratio := neutralInflowRatio
		if inflow+outflow > 0 {
			ratio = inflow / (inflow + outflow)
		}
		confidence := quietDayConfidence
		if len(txs) > 0 {
			confidence = activeDayConfidence
		}

		level := Classify(balance, outflow, i)
		results = append(results, domain.PredictionResult{
			Date:             date,
			PredictedBalance: balance,
			ConfidenceScore:  confidence,
			RiskLevel:        level,
			RiskColor:        level.Color(),
			Factors: domain.Factors{
				InflowConfidence:   ratio,
				TransactionCount:   len(txs),
				ScenarioAdjustment: scenario.InflowAdjustment,
			},
			Recommendations: s.recommender.Recommend(balance, txs, level),
			Scenario:        scenario.Name,
		})
	}

	return results, nil
}

// bucketByDay groups transactions by the day they are expected to settle.
// Inflows are shifted by the scenario delay; outflows never move. An inflow
// due today or later that an early shift pulls before today lands on today.
func bucketByDay(txs []*domain.Transaction, scenario domain.Scenario, today time.Time) map[time.Time][]*domain.Transaction {
	buckets := make(map[time.Time][]*domain.Transaction)
	for _, tx := range txs {
		day := domain.Day(tx.ExpectedDate)
		if tx.IsInflow() && scenario.DelayDays != 0 {
			shifted := day.AddDate(0, 0, scenario.DelayDays)
			if shifted.Before(today) && !day.Before(today) {
				shifted = today
			}
			day = shifted
		}
		buckets[day] = append(buckets[day], tx)
	}
	return buckets
}
