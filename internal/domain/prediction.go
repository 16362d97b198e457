package domain

import (
	"time"
)

// RiskLevel is the liquidity danger classification for one forecast day.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Color returns the display token for the level.
func (l RiskLevel) Color() string {
	switch l {
	case RiskCritical:
		return "#dc2626"
	case RiskHigh:
		return "#ef4444"
	case RiskMedium:
		return "#f59e0b"
	default:
		return "#22c55e"
	}
}

// Factors explains what drove a day's prediction.
type Factors struct {
	InflowConfidence   float64 `json:"inflowConfidence"`
	TransactionCount   int     `json:"transactionCount"`
	ScenarioAdjustment float64 `json:"scenarioAdjustment"`
}

// PredictionResult is one forecast day under one scenario.
type PredictionResult struct {
	Date             time.Time `json:"date"`
	PredictedBalance float64   `json:"predictedBalance"`
	ConfidenceScore  float64   `json:"confidenceScore"`
	RiskLevel        RiskLevel `json:"riskLevel"`
	RiskColor        string    `json:"riskColor"`
	Factors          Factors   `json:"factors"`
	Recommendations  []string  `json:"recommendations"`
	Scenario         string    `json:"scenario"`
}

// StoredPrediction is a persisted PredictionResult.
// Rows are unique per (tenant, branch, date, scenario).
type StoredPrediction struct {
	PredictionResult
	TenantID     string    `json:"tenantId"`
	BranchID     string    `json:"branchId,omitempty"`
	ModelVersion string    `json:"modelVersion,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`

	// Filled in once the day has settled.
	ActualBalance *float64 `json:"actualBalance,omitempty"`
	AccuracyScore *float64 `json:"accuracyScore,omitempty"`
}

// ScenarioSummary aggregates one scenario's daily sequence.
type ScenarioSummary struct {
	Scenario       string             `json:"scenario"`
	Predictions    []PredictionResult `json:"predictions"`
	FinalBalance   float64            `json:"finalBalance"`
	MinBalance     float64            `json:"minBalance"`
	CriticalDates  []time.Time        `json:"criticalDates"`
	CashRunwayDays int                `json:"cashRunwayDays"`
}
