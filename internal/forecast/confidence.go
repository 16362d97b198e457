// Package forecast projects a tenant's cash balance day by day.
//
// The pipeline is: per-transaction confidence (source weight, rules,
// scenario) -> daily netting in the Simulator -> risk classification and
// recommendations. Service ties it to persistence and the delay model.
package forecast

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

const (
	// MinConfidence and MaxConfidence bound every confidence value.
	MinConfidence = 0.05
	MaxConfidence = 1.0

	unknownSourceWeight = 0.5
)

var sourceWeights = map[domain.SourceModule]float64{
	domain.SourceBank:          1.0,
	domain.SourcePurchaseOrder: 0.95,
	domain.SourcePayroll:       0.98,
	domain.SourceExpense:       0.90,
	domain.SourceEInvoice:      0.85,
	domain.SourceSalesOrder:    0.70,
	domain.SourceMarketplace:   0.75,
	domain.SourceManual:        0.60,
}

// SourceWeight is the reliability weight of a source module.
func SourceWeight(source domain.SourceModule) float64 {
	if w, ok := sourceWeights[source]; ok {
		return w
	}
	return unknownSourceWeight
}

// Calculator computes how much of a pending amount is expected to land on
// its scheduled day.
type Calculator struct {
	engine *rules.Engine
}

// NewCalculator creates a calculator evaluating rules with engine.
func NewCalculator(engine *rules.Engine) *Calculator {
	return &Calculator{engine: engine}
}

// Confidence returns the clamped confidence for tx. scenario may be nil.
func (c *Calculator) Confidence(tx *domain.Transaction, active []*domain.Rule, scenario *domain.Scenario) float64 {
	confidence := tx.Baseline() * SourceWeight(tx.SourceModule)

	confidence, _ = c.engine.Apply(active, tx, confidence, rules.ScopeLive)

	if scenario != nil {
		confidence *= scenario.Multiplier(tx.Type)
	}

	return clamp(confidence)
}

func clamp(v float64) float64 {
	if v != v || v < MinConfidence {
		return MinConfidence
	}
	if v > MaxConfidence {
		return MaxConfidence
	}
	return v
}
