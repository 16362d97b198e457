// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	return nil
}

const transactionColumns = `
	id, tenant_id, branch_id, expected_date, actual_date, amount, type,
	source_module, status, base_confidence, category, reference_no,
	payment_term_days, created_at`

// SaveTransaction inserts or replaces a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var actual sql.NullString
	if tx.ActualDate != nil {
		actual = sql.NullString{String: tx.ActualDate.UTC().Format(domain.DateLayout), Valid: true}
	}
	var base sql.NullFloat64
	if tx.BaseConfidence != nil {
		base = sql.NullFloat64{Float64: *tx.BaseConfidence, Valid: true}
	}
	var term sql.NullInt64
	if tx.PaymentTermDays != nil {
		term = sql.NullInt64{Int64: int64(*tx.PaymentTermDays), Valid: true}
	}
	created := tx.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			branch_id = excluded.branch_id,
			expected_date = excluded.expected_date,
			actual_date = excluded.actual_date,
			amount = excluded.amount,
			type = excluded.type,
			source_module = excluded.source_module,
			status = excluded.status,
			base_confidence = excluded.base_confidence,
			category = excluded.category,
			reference_no = excluded.reference_no,
			payment_term_days = excluded.payment_term_days
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.BranchID,
		domain.Day(tx.ExpectedDate).Format(domain.DateLayout), actual,
		tx.Amount, string(tx.Type), string(tx.SourceModule), string(tx.Status),
		base, tx.Category, tx.ReferenceNo, term, created.UTC(),
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE tenant_id = ? AND id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return tx, err
}

// ListSettledTransactions returns cleared, dated transactions expected on or after since.
func (r *SQLRepository) ListSettledTransactions(ctx context.Context, tenantID, branchID string, since time.Time) ([]*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = ?
		  AND status = 'cleared'
		  AND actual_date IS NOT NULL
		  AND expected_date >= ?`
	args := []any{tenantID, domain.Day(since).Format(domain.DateLayout)}
	query, args = withBranch(query, args, branchID)
	query += ` ORDER BY expected_date, id`

	return r.queryTransactions(ctx, query, args...)
}

// ListPendingTransactions returns open transactions expected before until.
func (r *SQLRepository) ListPendingTransactions(ctx context.Context, tenantID, branchID string, until time.Time) ([]*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = ?
		  AND status IN ('pending', 'partial', 'overdue')
		  AND expected_date < ?`
	args := []any{tenantID, domain.Day(until).Format(domain.DateLayout)}
	query, args = withBranch(query, args, branchID)
	query += ` ORDER BY expected_date, id`

	return r.queryTransactions(ctx, query, args...)
}

// ListPendingSample returns the first limit pending transactions by expected date.
func (r *SQLRepository) ListPendingSample(ctx context.Context, tenantID string, limit int) ([]*domain.Transaction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE tenant_id = ? AND status = 'pending'
		ORDER BY expected_date, id
		LIMIT ?`

	return r.queryTransactions(ctx, query, tenantID, limit)
}

// ClearedBalance sums cleared inflows minus cleared outflows.
func (r *SQLRepository) ClearedBalance(ctx context.Context, tenantID, branchID string) (float64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}

	query := `SELECT type, COALESCE(SUM(amount), 0) FROM transactions WHERE tenant_id = ? AND status = 'cleared'`
	args := []any{tenantID}
	query, args = withBranch(query, args, branchID)
	query += ` GROUP BY type`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	balance := decimal.Zero
	for rows.Next() {
		var typ string
		var sum float64
		if err := rows.Scan(&typ, &sum); err != nil {
			return 0, err
		}
		if domain.FlowType(typ) == domain.FlowInflow {
			balance = balance.Add(decimal.NewFromFloat(sum))
		} else {
			balance = balance.Sub(decimal.NewFromFloat(sum))
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	return balance.InexactFloat64(), nil
}

func (r *SQLRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var expected string
	var actual sql.NullString
	var typ, source, status string
	var base sql.NullFloat64
	var term sql.NullInt64

	if err := s.Scan(
		&tx.ID, &tx.TenantID, &tx.BranchID, &expected, &actual, &tx.Amount, &typ,
		&source, &status, &base, &tx.Category, &tx.ReferenceNo,
		&term, &tx.CreatedAt,
	); err != nil {
		return nil, err
	}

	day, err := domain.ParseDay(expected)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: bad expected_date %q: %w", tx.ID, expected, err)
	}
	tx.ExpectedDate = day
	if actual.Valid {
		d, err := domain.ParseDay(actual.String)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: bad actual_date %q: %w", tx.ID, actual.String, err)
		}
		tx.ActualDate = &d
	}
	tx.Type = domain.FlowType(typ)
	tx.SourceModule = domain.SourceModule(source)
	tx.Status = domain.TransactionStatus(status)
	if base.Valid {
		v := base.Float64
		tx.BaseConfidence = &v
	}
	if term.Valid {
		v := int(term.Int64)
		tx.PaymentTermDays = &v
	}
	return &tx, nil
}

const ruleColumns = `
	id, tenant_id, name, description, rule_type, conditions,
	adjustment_factor, priority, is_active, created_at, updated_at`

// SaveRule stores a rule with tenant isolation.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.Rule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	conditions, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to encode rule condition: %w", err)
	}

	query := `
		INSERT INTO forecast_rules (` + ruleColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			conditions = excluded.conditions,
			adjustment_factor = excluded.adjustment_factor,
			priority = excluded.priority,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, string(rule.Type), string(conditions),
		rule.AdjustmentFactor, rule.Priority, boolToInt(rule.IsActive),
		rule.CreatedAt.UTC(), rule.UpdatedAt.UTC(),
	)
	return err
}

// UpdateRule rewrites the mutable fields of an existing rule.
func (r *SQLRepository) UpdateRule(ctx context.Context, tenantID string, rule *domain.Rule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	conditions, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to encode rule condition: %w", err)
	}

	query := `
		UPDATE forecast_rules
		SET name = ?, description = ?, conditions = ?, adjustment_factor = ?,
		    priority = ?, is_active = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.Name, rule.Description, string(conditions), rule.AdjustmentFactor,
		rule.Priority, boolToInt(rule.IsActive), rule.UpdatedAt.UTC(),
		tenantID, rule.ID,
	)
	if err != nil {
		return err
	}
	return expectRows(result)
}

// GetRule retrieves a rule, active or not, with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.Rule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + ` FROM forecast_rules WHERE tenant_id = ? AND id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListActiveRules returns active rules by priority, newest first within a priority.
func (r *SQLRepository) ListActiveRules(ctx context.Context, tenantID string) ([]*domain.Rule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ruleColumns + `
		FROM forecast_rules
		WHERE tenant_id = ? AND is_active = 1
		ORDER BY priority DESC, created_at DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeactivateRule soft-deletes a rule by setting is_active = 0.
// Deactivating an inactive rule succeeds.
func (r *SQLRepository) DeactivateRule(ctx context.Context, tenantID string, ruleID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		UPDATE forecast_rules
		SET is_active = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}
	return expectRows(result)
}

func scanRule(s scanner) (*domain.Rule, error) {
	var rule domain.Rule
	var typ, conditions string
	var active int

	if err := s.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description, &typ, &conditions,
		&rule.AdjustmentFactor, &rule.Priority, &active, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Type = domain.RuleType(typ)
	rule.IsActive = active == 1

	cond, err := domain.DecodeCondition(rule.Type, []byte(conditions))
	if err != nil {
		// Left nil; evaluation reports the rule as faulty and skips it.
		slog.Warn("stored rule has malformed condition",
			"rule_id", rule.ID,
			"tenant_id", rule.TenantID,
			"error", err,
		)
	} else {
		rule.Condition = cond
	}
	return &rule, nil
}

// SaveModelMetrics appends a training-run record.
func (r *SQLRepository) SaveModelMetrics(ctx context.Context, tenantID string, m *domain.ModelMetrics) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		INSERT INTO model_metrics (
			id, tenant_id, branch_id, accuracy_score, mae, rmse, training_date, data_points, model_version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		m.ID, tenantID, m.BranchID, m.AccuracyScore, m.MAE, m.RMSE,
		m.TrainingDate.UTC(), m.DataPoints, m.ModelVersion,
	)
	return err
}

// LatestModelMetrics returns the most recent training run for a tenant/branch.
func (r *SQLRepository) LatestModelMetrics(ctx context.Context, tenantID, branchID string) (*domain.ModelMetrics, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, branch_id, accuracy_score, mae, rmse, training_date, data_points, model_version
		FROM model_metrics
		WHERE tenant_id = ? AND branch_id = ?
		ORDER BY training_date DESC
		LIMIT 1
	`

	var m domain.ModelMetrics
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, branchID).Scan(
		&m.ID, &m.TenantID, &m.BranchID, &m.AccuracyScore, &m.MAE, &m.RMSE,
		&m.TrainingDate, &m.DataPoints, &m.ModelVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

const predictionColumns = `
	tenant_id, branch_id, prediction_date, scenario, predicted_balance,
	confidence_score, risk_level, risk_color, factors, recommendations,
	model_version, actual_balance, accuracy_score, created_at`

// UpsertPrediction writes a prediction keyed by (tenant, branch, date, scenario).
// Recorded actuals survive the overwrite.
func (r *SQLRepository) UpsertPrediction(ctx context.Context, tenantID string, p *domain.StoredPrediction) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	factors, err := json.Marshal(p.Factors)
	if err != nil {
		return err
	}
	recs := p.Recommendations
	if recs == nil {
		recs = []string{}
	}
	recommendations, err := json.Marshal(recs)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO predictions (
			tenant_id, branch_id, prediction_date, scenario, predicted_balance,
			confidence_score, risk_level, risk_color, factors, recommendations,
			model_version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, branch_id, prediction_date, scenario) DO UPDATE SET
			predicted_balance = excluded.predicted_balance,
			confidence_score = excluded.confidence_score,
			risk_level = excluded.risk_level,
			risk_color = excluded.risk_color,
			factors = excluded.factors,
			recommendations = excluded.recommendations,
			model_version = excluded.model_version,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tenantID, p.BranchID, domain.Day(p.Date).Format(domain.DateLayout), p.Scenario,
		p.PredictedBalance, p.ConfidenceScore, string(p.RiskLevel), p.RiskColor,
		string(factors), string(recommendations), p.ModelVersion, now, now,
	)
	return err
}

// ListPredictions returns stored predictions for one scenario in date order.
func (r *SQLRepository) ListPredictions(ctx context.Context, tenantID, branchID, scenario string) ([]*domain.StoredPrediction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + predictionColumns + `
		FROM predictions
		WHERE tenant_id = ? AND branch_id = ? AND scenario = ?
		ORDER BY prediction_date`

	return r.queryPredictions(ctx, query, tenantID, branchID, scenario)
}

// ListPredictionsWithActuals returns the most recent predictions whose outcome is known.
func (r *SQLRepository) ListPredictionsWithActuals(ctx context.Context, tenantID, branchID string, limit int) ([]*domain.StoredPrediction, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 30
	}

	query := `SELECT ` + predictionColumns + `
		FROM predictions
		WHERE tenant_id = ? AND branch_id = ? AND actual_balance IS NOT NULL
		ORDER BY prediction_date DESC
		LIMIT ?`

	return r.queryPredictions(ctx, query, tenantID, branchID, limit)
}

// RecordActualBalance stores the settled balance for a day on every scenario's
// prediction and scores each one.
func (r *SQLRepository) RecordActualBalance(ctx context.Context, tenantID, branchID string, day time.Time, actual float64) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	date := domain.Day(day).Format(domain.DateLayout)

	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT scenario, predicted_balance FROM predictions
		WHERE tenant_id = ? AND branch_id = ? AND prediction_date = ?`),
		tenantID, branchID, date)
	if err != nil {
		return err
	}
	scores := map[string]float64{}
	for rows.Next() {
		var scenario string
		var predicted float64
		if err := rows.Scan(&scenario, &predicted); err != nil {
			rows.Close()
			return err
		}
		scores[scenario] = AccuracyScore(predicted, actual)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if len(scores) == 0 {
		return ErrNotFound
	}

	update := r.rebind(`
		UPDATE predictions SET actual_balance = ?, accuracy_score = ?, updated_at = ?
		WHERE tenant_id = ? AND branch_id = ? AND prediction_date = ? AND scenario = ?`)
	now := time.Now().UTC()
	for scenario, score := range scores {
		if _, err := r.db.ExecContext(ctx, update, actual, score, now, tenantID, branchID, date, scenario); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLRepository) queryPredictions(ctx context.Context, query string, args ...any) ([]*domain.StoredPrediction, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.StoredPrediction
	for rows.Next() {
		var p domain.StoredPrediction
		var date, risk, factors, recs string
		var actual, accuracy sql.NullFloat64

		if err := rows.Scan(
			&p.TenantID, &p.BranchID, &date, &p.Scenario, &p.PredictedBalance,
			&p.ConfidenceScore, &risk, &p.RiskColor, &factors, &recs,
			&p.ModelVersion, &actual, &accuracy, &p.CreatedAt,
		); err != nil {
			return nil, err
		}

		day, err := domain.ParseDay(date)
		if err != nil {
			return nil, fmt.Errorf("bad prediction_date %q: %w", date, err)
		}
		p.Date = day
		p.RiskLevel = domain.RiskLevel(risk)
		if err := json.Unmarshal([]byte(factors), &p.Factors); err != nil {
			return nil, fmt.Errorf("failed to parse prediction factors: %w", err)
		}
		if err := json.Unmarshal([]byte(recs), &p.Recommendations); err != nil {
			return nil, fmt.Errorf("failed to parse prediction recommendations: %w", err)
		}
		if actual.Valid {
			v := actual.Float64
			p.ActualBalance = &v
		}
		if accuracy.Valid {
			v := accuracy.Float64
			p.AccuracyScore = &v
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ListActiveTenants returns tenants with transactions recorded since the given time.
func (r *SQLRepository) ListActiveTenants(ctx context.Context, since time.Time) ([]string, error) {
	return r.queryStrings(ctx, `
		SELECT DISTINCT tenant_id FROM transactions
		WHERE created_at >= ?
		ORDER BY tenant_id`, since.UTC())
}

// ListTenantsWithPending returns tenants that have pending transactions.
func (r *SQLRepository) ListTenantsWithPending(ctx context.Context) ([]string, error) {
	return r.queryStrings(ctx, `
		SELECT DISTINCT tenant_id FROM transactions
		WHERE status = 'pending'
		ORDER BY tenant_id`)
}

func (r *SQLRepository) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func withBranch(query string, args []any, branchID string) (string, []any) {
	if branchID == "" {
		return query, args
	}
	return query + ` AND branch_id = ?`, append(args, branchID)
}

func expectRows(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AccuracyScore rates a prediction against the settled balance on a 0-100 scale.
func AccuracyScore(predicted, actual float64) float64 {
	if actual == 0 {
		if predicted == 0 {
			return 100
		}
		return 0
	}
	diff := decimal.NewFromFloat(predicted).Sub(decimal.NewFromFloat(actual)).Abs()
	ratio := diff.Div(decimal.NewFromFloat(actual).Abs())
	score := decimal.NewFromInt(100).Mul(decimal.NewFromInt(1).Sub(ratio))
	if score.IsNegative() {
		return 0
	}
	return score.InexactFloat64()
}
