package domain

import (
	"encoding/json"
	"time"
)

// ModelMetrics is an append-only record of one training run.
type ModelMetrics struct {
	ID            string    `json:"id,omitempty"`
	TenantID      string    `json:"tenantId"`
	BranchID      string    `json:"branchId,omitempty"`
	AccuracyScore float64   `json:"accuracyScore"`
	MAE           float64   `json:"mae"`
	RMSE          float64   `json:"rmse"`
	TrainingDate  time.Time `json:"trainingDate"`
	DataPoints    int       `json:"dataPoints"`
	ModelVersion  string    `json:"modelVersion"`

	// Cached is set when the metrics come from a fresh earlier run.
	Cached bool `json:"cached,omitempty"`
}

// ModelSnapshot pairs a run's metrics with its serialized artifact.
type ModelSnapshot struct {
	Metrics  ModelMetrics    `json:"metrics"`
	Artifact json.RawMessage `json:"artifact"`
}

// AccuracyReport is the latest run plus recent predictions with known outcomes.
type AccuracyReport struct {
	Latest          *ModelMetrics       `json:"latest,omitempty"`
	Recent          []*StoredPrediction `json:"recent"`
	AverageAccuracy float64             `json:"averageAccuracy"`
}
