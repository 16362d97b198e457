package forecast

import "github.com/opensource-finance/kestrel/internal/domain"

// Runway thresholds, in days of same-day outflow the balance covers.
const (
	criticalRunway = 7
	highRunway     = 15
	mediumRunway   = 30

	// Beyond this day index a thin balance is flagged even without outflow.
	farHorizonDay     = 60
	farHorizonReserve = 50000
)

// Classify maps one day's running balance, outflow and index to a risk level.
// It depends on nothing else.
func Classify(balance, outflow float64, dayIndex int) domain.RiskLevel {
	if balance < 0 {
		return domain.RiskCritical
	}

	if outflow > 0 {
		runway := balance / outflow
		switch {
		case runway < criticalRunway:
			return domain.RiskCritical
		case runway < highRunway:
			return domain.RiskHigh
		case runway < mediumRunway:
			return domain.RiskMedium
		}
	}

	if dayIndex > farHorizonDay && balance < farHorizonReserve {
		return domain.RiskMedium
	}

	return domain.RiskLow
}
