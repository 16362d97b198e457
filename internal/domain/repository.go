// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Tenant-scoped methods require tenantID; an empty branchID means all branches.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	ListSettledTransactions(ctx context.Context, tenantID, branchID string, since time.Time) ([]*Transaction, error)
	ListPendingTransactions(ctx context.Context, tenantID, branchID string, until time.Time) ([]*Transaction, error)
	ListPendingSample(ctx context.Context, tenantID string, limit int) ([]*Transaction, error)
	ClearedBalance(ctx context.Context, tenantID, branchID string) (float64, error)

	// Rule operations
	SaveRule(ctx context.Context, tenantID string, rule *Rule) error
	UpdateRule(ctx context.Context, tenantID string, rule *Rule) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*Rule, error)
	ListActiveRules(ctx context.Context, tenantID string) ([]*Rule, error)
	DeactivateRule(ctx context.Context, tenantID string, ruleID string) error

	// Training history
	SaveModelMetrics(ctx context.Context, tenantID string, m *ModelMetrics) error
	LatestModelMetrics(ctx context.Context, tenantID, branchID string) (*ModelMetrics, error)

	// Predictions
	UpsertPrediction(ctx context.Context, tenantID string, p *StoredPrediction) error
	ListPredictions(ctx context.Context, tenantID, branchID, scenario string) ([]*StoredPrediction, error)
	ListPredictionsWithActuals(ctx context.Context, tenantID, branchID string, limit int) ([]*StoredPrediction, error)
	RecordActualBalance(ctx context.Context, tenantID, branchID string, day time.Time, actual float64) error

	// Tenant discovery for scheduled jobs
	ListActiveTenants(ctx context.Context, since time.Time) ([]string, error)
	ListTenantsWithPending(ctx context.Context) ([]string, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "memory"
	Driver string `yaml:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlite_path" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgres_host" json:"postgresHost"`
	PostgresPort     int    `yaml:"postgres_port" json:"postgresPort"`
	PostgresUser     string `yaml:"postgres_user" json:"postgresUser"`
	PostgresPassword string `yaml:"postgres_password" json:"-"`
	PostgresDB       string `yaml:"postgres_db" json:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgres_sslmode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns" json:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"connMaxLifetime"`
}
