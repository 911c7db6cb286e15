// Package config loads the Harrier configuration from HARRIER_* environment
// variables and validates it.
package config

import (
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Prefix is the environment variable prefix (HARRIER_APP_NAME, ...).
const Prefix = "HARRIER"

const defaultDriver = "sqlite"

// Load reads configuration from environment variables with the HARRIER prefix.
func Load() (*domain.Config, error) {
	cfg := &domain.Config{}

	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	// The primary driver has no tag default so the rules store can tell
	// "unset" (share the primary connection) from an explicit choice.
	if cfg.Primary.Driver == "" {
		cfg.Primary.Driver = defaultDriver
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks cfg with go-playground/validator plus cross-field rules.
func Validate(cfg *domain.Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if err := validateRepository("PRIMARY", cfg.Primary); err != nil {
		return err
	}
	if err := validateRepository("RULES", cfg.Rules); err != nil {
		return err
	}

	if cfg.Cache.Type == "redis" && cfg.Cache.RedisAddr == "" {
		return fmt.Errorf("CACHE_REDIS_ADDR is required for the redis cache")
	}
	if cfg.EventBus.Type == "nats" && cfg.EventBus.NATSUrl == "" {
		return fmt.Errorf("BUS_NATS_URL is required for the nats event bus")
	}

	return nil
}

func validateRepository(name string, cfg domain.RepositoryConfig) error {
	switch cfg.Driver {
	case "postgres", "pgx":
		if cfg.PostgresUser == "" {
			return fmt.Errorf("%s_POSTGRES_USER is required for the %s driver", name, cfg.Driver)
		}
	case "sqlite":
		if cfg.SQLitePath == "" {
			return fmt.Errorf("%s_SQLITE_PATH is required for the sqlite driver", name)
		}
	}
	return nil
}

// RulesRepository returns the configuration of the rules store and whether
// it needs its own connection.
func RulesRepository(cfg *domain.Config) (domain.RepositoryConfig, bool) {
	if cfg.Rules.Driver == "" {
		return cfg.Primary, false
	}
	return cfg.Rules, true
}

// LogConfig logs the current configuration without credentials.
func LogConfig(log *slog.Logger, cfg *domain.Config) {
	rules, separate := RulesRepository(cfg)

	log.Info("configuration loaded",
		slog.String("app_name", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("log_level", cfg.App.LogLevel),
		slog.String("log_format", cfg.App.LogFormat),
		slog.Duration("shutdown_timeout", cfg.App.ShutdownTimeout),
		slog.Int("port", cfg.Server.Port),
		slog.String("primary_driver", cfg.Primary.Driver),
		slog.String("rules_driver", rules.Driver),
		slog.Bool("rules_separate", separate),
		slog.String("cache_type", cfg.Cache.Type),
		slog.String("bus_type", cfg.EventBus.Type),
		slog.Int("max_workers", cfg.Engine.MaxWorkers),
		slog.Duration("eval_timeout", cfg.Engine.EvalTimeout),
		slog.Bool("worker_enabled", cfg.Worker.Enabled),
	)
}
