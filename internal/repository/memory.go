package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MemoryRepository is an in-process domain.Repository for tests and demos.
// Every read returns copies so callers cannot mutate stored state.
type MemoryRepository struct {
	mu           sync.RWMutex
	transactions map[string]map[string]domain.Transaction
	rules        map[string]map[string]domain.Rule
	metrics      map[string][]domain.ModelMetrics
	predictions  map[predictionKey]domain.StoredPrediction
	closed       bool
}

type predictionKey struct {
	tenant, branch, date, scenario string
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{
		transactions: make(map[string]map[string]domain.Transaction),
		rules:        make(map[string]map[string]domain.Rule),
		metrics:      make(map[string][]domain.ModelMetrics),
		predictions:  make(map[predictionKey]domain.StoredPrediction),
	}
}

func (m *MemoryRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *tx
	stored.TenantID = tenantID
	stored.ExpectedDate = domain.Day(tx.ExpectedDate)
	if tx.ActualDate != nil {
		d := domain.Day(*tx.ActualDate)
		stored.ActualDate = &d
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if m.transactions[tenantID] == nil {
		m.transactions[tenantID] = make(map[string]domain.Transaction)
	}
	m.transactions[tenantID][tx.ID] = stored
	return nil
}

func (m *MemoryRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[tenantID][txID]
	if !ok {
		return nil, ErrNotFound
	}
	return &tx, nil
}

func (m *MemoryRepository) ListSettledTransactions(ctx context.Context, tenantID, branchID string, since time.Time) ([]*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	from := domain.Day(since)
	return m.filterTransactions(tenantID, branchID, func(tx *domain.Transaction) bool {
		return tx.Status == domain.StatusCleared && tx.ActualDate != nil && !tx.ExpectedDate.Before(from)
	}), nil
}

func (m *MemoryRepository) ListPendingTransactions(ctx context.Context, tenantID, branchID string, until time.Time) ([]*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	end := domain.Day(until)
	return m.filterTransactions(tenantID, branchID, func(tx *domain.Transaction) bool {
		return tx.Status != domain.StatusCleared && tx.ExpectedDate.Before(end)
	}), nil
}

func (m *MemoryRepository) ListPendingSample(ctx context.Context, tenantID string, limit int) ([]*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	out := m.filterTransactions(tenantID, "", func(tx *domain.Transaction) bool {
		return tx.Status == domain.StatusPending
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) ClearedBalance(ctx context.Context, tenantID, branchID string) (float64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	balance := decimal.Zero
	for _, tx := range m.filterTransactions(tenantID, branchID, func(tx *domain.Transaction) bool {
		return tx.Status == domain.StatusCleared
	}) {
		amount := decimal.NewFromFloat(tx.Amount)
		if tx.IsInflow() {
			balance = balance.Add(amount)
		} else {
			balance = balance.Sub(amount)
		}
	}
	return balance.InexactFloat64(), nil
}

// filterTransactions returns matching copies ordered by expected date then id.
func (m *MemoryRepository) filterTransactions(tenantID, branchID string, keep func(*domain.Transaction) bool) []*domain.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Transaction
	for _, tx := range m.transactions[tenantID] {
		tx := tx
		if branchID != "" && tx.BranchID != branchID {
			continue
		}
		if keep(&tx) {
			out = append(out, &tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpectedDate.Equal(out[j].ExpectedDate) {
			return out[i].ExpectedDate.Before(out[j].ExpectedDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.Rule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *rule
	stored.TenantID = tenantID
	if existing, ok := m.rules[tenantID][rule.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	if m.rules[tenantID] == nil {
		m.rules[tenantID] = make(map[string]domain.Rule)
	}
	m.rules[tenantID][rule.ID] = stored
	return nil
}

func (m *MemoryRepository) UpdateRule(ctx context.Context, tenantID string, rule *domain.Rule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rules[tenantID][rule.ID]
	if !ok {
		return ErrNotFound
	}
	updated := *rule
	updated.TenantID = tenantID
	updated.Type = existing.Type
	updated.CreatedAt = existing.CreatedAt
	m.rules[tenantID][rule.ID] = updated
	return nil
}

func (m *MemoryRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.Rule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, ok := m.rules[tenantID][ruleID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rule, nil
}

func (m *MemoryRepository) ListActiveRules(ctx context.Context, tenantID string) ([]*domain.Rule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Rule
	for _, rule := range m.rules[tenantID] {
		rule := rule
		if rule.IsActive {
			out = append(out, &rule)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryRepository) DeactivateRule(ctx context.Context, tenantID string, ruleID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rule, ok := m.rules[tenantID][ruleID]
	if !ok {
		return ErrNotFound
	}
	rule.IsActive = false
	rule.UpdatedAt = time.Now().UTC()
	m.rules[tenantID][ruleID] = rule
	return nil
}

func (m *MemoryRepository) SaveModelMetrics(ctx context.Context, tenantID string, metrics *domain.ModelMetrics) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *metrics
	stored.TenantID = tenantID
	stored.Cached = false
	m.metrics[tenantID] = append(m.metrics[tenantID], stored)
	return nil
}

func (m *MemoryRepository) LatestModelMetrics(ctx context.Context, tenantID, branchID string) (*domain.ModelMetrics, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *domain.ModelMetrics
	for i := range m.metrics[tenantID] {
		run := m.metrics[tenantID][i]
		if run.BranchID != branchID {
			continue
		}
		if latest == nil || !run.TrainingDate.Before(latest.TrainingDate) {
			latest = &run
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// MetricsCount reports how many training runs were appended for a tenant.
func (m *MemoryRepository) MetricsCount(tenantID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.metrics[tenantID])
}

func (m *MemoryRepository) UpsertPrediction(ctx context.Context, tenantID string, p *domain.StoredPrediction) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := predictionKey{tenantID, p.BranchID, domain.Day(p.Date).Format(domain.DateLayout), p.Scenario}
	stored := *p
	stored.TenantID = tenantID
	stored.Date = domain.Day(p.Date)
	stored.Recommendations = append([]string(nil), p.Recommendations...)
	if existing, ok := m.predictions[key]; ok {
		stored.CreatedAt = existing.CreatedAt
		stored.ActualBalance = existing.ActualBalance
		stored.AccuracyScore = existing.AccuracyScore
	} else {
		stored.CreatedAt = time.Now().UTC()
	}
	m.predictions[key] = stored
	return nil
}

func (m *MemoryRepository) ListPredictions(ctx context.Context, tenantID, branchID, scenario string) ([]*domain.StoredPrediction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	out := m.filterPredictions(tenantID, branchID, func(p *domain.StoredPrediction) bool {
		return p.Scenario == scenario
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryRepository) ListPredictionsWithActuals(ctx context.Context, tenantID, branchID string, limit int) ([]*domain.StoredPrediction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 30
	}
	out := m.filterPredictions(tenantID, branchID, func(p *domain.StoredPrediction) bool {
		return p.ActualBalance != nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Scenario < out[j].Scenario
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) RecordActualBalance(ctx context.Context, tenantID, branchID string, day time.Time, actual float64) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	date := domain.Day(day).Format(domain.DateLayout)
	found := false
	for key, p := range m.predictions {
		if key.tenant != tenantID || key.branch != branchID || key.date != date {
			continue
		}
		found = true
		a := actual
		score := AccuracyScore(p.PredictedBalance, actual)
		p.ActualBalance = &a
		p.AccuracyScore = &score
		m.predictions[key] = p
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (m *MemoryRepository) filterPredictions(tenantID, branchID string, keep func(*domain.StoredPrediction) bool) []*domain.StoredPrediction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.StoredPrediction
	for key, p := range m.predictions {
		p := p
		if key.tenant != tenantID || key.branch != branchID {
			continue
		}
		if keep(&p) {
			out = append(out, &p)
		}
	}
	return out
}

func (m *MemoryRepository) ListActiveTenants(ctx context.Context, since time.Time) ([]string, error) {
	return m.tenantsWhere(func(tx *domain.Transaction) bool {
		return !tx.CreatedAt.Before(since)
	}), nil
}

func (m *MemoryRepository) ListTenantsWithPending(ctx context.Context) ([]string, error) {
	return m.tenantsWhere(func(tx *domain.Transaction) bool {
		return tx.Status == domain.StatusPending
	}), nil
}

func (m *MemoryRepository) tenantsWhere(match func(*domain.Transaction) bool) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for tenantID, txs := range m.transactions {
		for _, tx := range txs {
			tx := tx
			if match(&tx) {
				out = append(out, tenantID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (m *MemoryRepository) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errors.New("repository is closed")
	}
	return nil
}

func (m *MemoryRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
