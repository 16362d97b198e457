package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server" json:"server"`

	// Tier determines the default backing services
	Tier Tier `yaml:"tier" json:"tier"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository" json:"repository"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	EventBus   EventBusConfig   `yaml:"event_bus" json:"eventBus"`

	// Forecasting
	Forecast  ForecastConfig  `yaml:"forecast" json:"forecast"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Worker    WorkerConfig    `yaml:"worker" json:"worker"`

	// Observability
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"read_timeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `yaml:"write_timeout" json:"writeTimeout"` // seconds
}

// ForecastConfig tunes the forecasting pipeline.
type ForecastConfig struct {
	DefaultHorizonDays int `yaml:"default_horizon_days" json:"defaultHorizonDays"`

	// Currency is printed next to amounts in recommendations.
	Currency string `yaml:"currency" json:"currency"`

	// ModelFreshness is how long a trained model satisfies non-forced training.
	ModelFreshness time.Duration `yaml:"model_freshness" json:"modelFreshness"`

	// ImpactSampleSize bounds the pending items a rule impact estimate reads.
	ImpactSampleSize int `yaml:"impact_sample_size" json:"impactSampleSize"`
}

// SchedulerConfig holds the cron expressions for recurring jobs.
// Expressions carry a leading seconds field.
type SchedulerConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	TrainCron    string `yaml:"train_cron" json:"trainCron"`
	ForecastCron string `yaml:"forecast_cron" json:"forecastCron"`
	ActivityDays int    `yaml:"activity_days" json:"activityDays"`
	HorizonDays  int    `yaml:"horizon_days" json:"horizonDays"`
	ScenarioName string `yaml:"scenario" json:"scenario"`
	RunOnStartup bool   `yaml:"run_on_startup" json:"runOnStartup"`
}

// WorkerConfig controls the async bus consumer.
type WorkerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// TenantIDs limits the worker to these tenants; empty means every tenant.
	TenantIDs []string `yaml:"tenant_ids" json:"tenantIds"`

	// QueueGroup shares jobs between workers so each runs once. Workers in
	// one group must serve the same tenants. Empty means every worker sees
	// every job.
	QueueGroup string `yaml:"queue_group" json:"queueGroup"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Forecast: ForecastConfig{
			DefaultHorizonDays: 30,
			Currency:           "TRY",
			ModelFreshness:     24 * time.Hour,
			ImpactSampleSize:   100,
		},
		Scheduler: SchedulerConfig{
			Enabled:      false,
			TrainCron:    "0 0 2 * * *",
			ForecastCron: "0 0 * * * *",
			ActivityDays: 30,
			HorizonDays:  30,
			ScenarioName: "realistic",
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Scheduler.Enabled = true
	cfg.Worker.QueueGroup = "kestrel-workers"
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate checks cross-field constraints after all sources are merged.
func (c *Config) Validate() error {
	switch c.Repository.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("repository.driver: unsupported driver %q", c.Repository.Driver)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.type: unsupported type %q", c.Cache.Type)
	}
	switch c.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("event_bus.type: unsupported type %q", c.EventBus.Type)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if h := c.Forecast.DefaultHorizonDays; h < 7 || h > 90 {
		return fmt.Errorf("forecast.default_horizon_days must be between 7 and 90")
	}
	if h := c.Scheduler.HorizonDays; h < 7 || h > 90 {
		return fmt.Errorf("scheduler.horizon_days must be between 7 and 90")
	}
	if _, err := ScenarioByName(c.Scheduler.ScenarioName); err != nil {
		return fmt.Errorf("scheduler.scenario: %w", err)
	}
	return nil
}
