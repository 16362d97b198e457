package forecast

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Summarize aggregates one scenario's daily sequence.
func Summarize(scenario string, days []domain.PredictionResult) domain.ScenarioSummary {
	summary := domain.ScenarioSummary{
		Scenario:       scenario,
		Predictions:    days,
		CriticalDates:  []time.Time{},
		CashRunwayDays: len(days),
	}
	if len(days) == 0 {
		return summary
	}

	summary.FinalBalance = days[len(days)-1].PredictedBalance
	summary.MinBalance = days[0].PredictedBalance

	runwayFound := false
	for i, d := range days {
		if d.PredictedBalance < summary.MinBalance {
			summary.MinBalance = d.PredictedBalance
		}
		if d.RiskLevel == domain.RiskCritical || d.RiskLevel == domain.RiskHigh {
			summary.CriticalDates = append(summary.CriticalDates, d.Date)
		}
		if !runwayFound && d.PredictedBalance < 0 {
			summary.CashRunwayDays = i
			runwayFound = true
		}
	}
	return summary
}
