package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL. Calendar days are stored as
// YYYY-MM-DD text so range filters compare the same way on both engines.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    branch_id TEXT NOT NULL DEFAULT '',
    expected_date TEXT NOT NULL,
    actual_date TEXT,
    amount DOUBLE PRECISION NOT NULL,
    type TEXT NOT NULL,
    source_module TEXT NOT NULL,
    status TEXT NOT NULL,
    base_confidence DOUBLE PRECISION,
    category TEXT NOT NULL DEFAULT '',
    reference_no TEXT NOT NULL DEFAULT '',
    payment_term_days INTEGER,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(tenant_id, status, expected_date);
CREATE INDEX IF NOT EXISTS idx_transactions_branch ON transactions(tenant_id, branch_id);
CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS forecast_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    rule_type TEXT NOT NULL,
    conditions TEXT NOT NULL,
    adjustment_factor DOUBLE PRECISION NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_forecast_rules_active ON forecast_rules(tenant_id, is_active, priority);
`

const schemaModelMetrics = `
CREATE TABLE IF NOT EXISTS model_metrics (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    branch_id TEXT NOT NULL DEFAULT '',
    accuracy_score DOUBLE PRECISION NOT NULL,
    mae DOUBLE PRECISION NOT NULL,
    rmse DOUBLE PRECISION NOT NULL,
    training_date TIMESTAMP NOT NULL,
    data_points INTEGER NOT NULL,
    model_version TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_model_metrics_tenant ON model_metrics(tenant_id, branch_id, training_date);
`

const schemaPredictions = `
CREATE TABLE IF NOT EXISTS predictions (
    tenant_id TEXT NOT NULL,
    branch_id TEXT NOT NULL DEFAULT '',
    prediction_date TEXT NOT NULL,
    scenario TEXT NOT NULL,
    predicted_balance DOUBLE PRECISION NOT NULL,
    confidence_score DOUBLE PRECISION NOT NULL,
    risk_level TEXT NOT NULL,
    risk_color TEXT NOT NULL,
    factors TEXT NOT NULL,
    recommendations TEXT NOT NULL,
    model_version TEXT NOT NULL DEFAULT '',
    actual_balance DOUBLE PRECISION,
    accuracy_score DOUBLE PRECISION,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, branch_id, prediction_date, scenario)
);

CREATE INDEX IF NOT EXISTS idx_predictions_actuals ON predictions(tenant_id, branch_id, prediction_date);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaRules,
		schemaModelMetrics,
		schemaPredictions,
	}
}
