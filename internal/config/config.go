// Package config assembles a domain.Config from defaults, an optional YAML
// file, a .env file and KESTREL_* environment variables, in that order.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KESTREL_"

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file is not an error. The tier is chosen before the file is read so
// that KESTREL_TIER=pro starts from the Pro defaults.
func Load(path string) (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := domain.DefaultConfig()
	if os.Getenv(EnvPrefix+"TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *domain.Config) error {
	setString("HOST", &cfg.Server.Host)
	if err := setInt("PORT", &cfg.Server.Port); err != nil {
		return err
	}

	setString("DB_DRIVER", &cfg.Repository.Driver)
	setString("SQLITE_PATH", &cfg.Repository.SQLitePath)
	setString("POSTGRES_HOST", &cfg.Repository.PostgresHost)
	if err := setInt("POSTGRES_PORT", &cfg.Repository.PostgresPort); err != nil {
		return err
	}
	setString("POSTGRES_USER", &cfg.Repository.PostgresUser)
	setString("POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	setString("POSTGRES_DB", &cfg.Repository.PostgresDB)
	setString("POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	setString("CACHE_TYPE", &cfg.Cache.Type)
	setString("REDIS_ADDR", &cfg.Cache.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.Cache.RedisPassword)

	setString("BUS_TYPE", &cfg.EventBus.Type)
	setString("NATS_URL", &cfg.EventBus.NATSUrl)
	setString("NATS_TOKEN", &cfg.EventBus.NATSToken)

	setString("CURRENCY", &cfg.Forecast.Currency)
	if err := setInt("HORIZON_DAYS", &cfg.Forecast.DefaultHorizonDays); err != nil {
		return err
	}
	if err := setDuration("MODEL_FRESHNESS", &cfg.Forecast.ModelFreshness); err != nil {
		return err
	}

	if err := setBool("SCHEDULER", &cfg.Scheduler.Enabled); err != nil {
		return err
	}
	setString("CRON_TRAIN", &cfg.Scheduler.TrainCron)
	setString("CRON_FORECAST", &cfg.Scheduler.ForecastCron)

	if err := setBool("ASYNC_WORKER", &cfg.Worker.Enabled); err != nil {
		return err
	}
	if v := os.Getenv(EnvPrefix + "TENANTS"); v != "" {
		cfg.Worker.TenantIDs = splitList(v)
	}
	setString("WORKER_GROUP", &cfg.Worker.QueueGroup)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	if os.Getenv(EnvPrefix+"DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	return setBool("TRACING", &cfg.Tracing.Enabled)
}

func setString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = n
	return nil
}

func setBool(key string, dst *bool) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = b
	return nil
}

func setDuration(key string, dst *time.Duration) error {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
