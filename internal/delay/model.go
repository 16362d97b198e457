// Package delay learns how late transactions settle.
//
// A Model is an immutable gradient-boosted regressor mapping a transaction's
// feature vector to its expected settlement delay in days. The Trainer fits
// models from a tenant's settlement history and records their accuracy.
package delay

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Version tags every model artifact and metrics row.
const Version = "2.0.0"

// Params controls boosting.
type Params struct {
	Trees           int     `json:"trees"`
	MaxDepth        int     `json:"maxDepth"`
	LearningRate    float64 `json:"learningRate"`
	MinSamplesSplit int     `json:"minSamplesSplit"`
	MinSamplesLeaf  int     `json:"minSamplesLeaf"`
	Seed            int64   `json:"seed"`
}

// DefaultParams returns the production boosting configuration.
func DefaultParams() Params {
	return Params{
		Trees:           200,
		MaxDepth:        5,
		LearningRate:    0.1,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            42,
	}
}

// Model is a fitted ensemble. It is never mutated after Fit returns, so one
// instance can serve concurrent callers.
type Model struct {
	Version  string   `json:"version"`
	Params   Params   `json:"params"`
	Features []string `json:"features"`
	Init     float64  `json:"init"`
	Trees    []*Tree  `json:"trees"`
}

// Fit trains a squared-error gradient-boosted ensemble on X and y.
func Fit(X [][]float64, y []float64, p Params) (*Model, error) {
	if len(X) == 0 {
		return nil, errors.New("no training rows")
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("feature rows (%d) and targets (%d) differ", len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), width)
		}
	}
	if p.Trees <= 0 || p.LearningRate <= 0 {
		return nil, fmt.Errorf("invalid params: trees=%d learning_rate=%v", p.Trees, p.LearningRate)
	}

	all := make([]int, len(X))
	for i := range all {
		all[i] = i
	}

	m := &Model{
		Version:  Version,
		Params:   p,
		Features: features.Columns,
		Init:     mean(y, all),
		Trees:    make([]*Tree, 0, p.Trees),
	}

	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = m.Init
	}
	residual := make([]float64, len(y))
	tp := treeParams{maxDepth: p.MaxDepth, minSplit: p.MinSamplesSplit, minLeaf: p.MinSamplesLeaf}

	for s := 0; s < p.Trees; s++ {
		for i := range y {
			residual[i] = y[i] - pred[i]
		}
		tree := fitTree(X, residual, all, tp)
		for i := range pred {
			pred[i] += p.LearningRate * tree.Predict(X[i])
		}
		m.Trees = append(m.Trees, tree)
	}

	return m, nil
}

// Predict returns the expected delay in days for one feature vector.
func (m *Model) Predict(x []float64) float64 {
	out := m.Init
	for _, t := range m.Trees {
		out += m.Params.LearningRate * t.Predict(x)
	}
	return out
}

// PredictTransaction returns the expected delay in days for a transaction.
func (m *Model) PredictTransaction(tx *domain.Transaction) float64 {
	return m.Predict(features.FromTransaction(tx).Vector())
}

func encodeModel(m *Model) (json.RawMessage, error) {
	return json.Marshal(m)
}

func decodeModel(raw json.RawMessage) (*Model, error) {
	var m Model
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m.Version != Version {
		return nil, fmt.Errorf("model version %q, want %q", m.Version, Version)
	}
	if len(m.Trees) == 0 {
		return nil, errors.New("model has no trees")
	}
	return &m, nil
}
