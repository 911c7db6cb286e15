package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		want    func(t *testing.T, cfg *domain.Config)
		wantErr bool
	}{
		{
			name:    "Should use defaults when no env vars are set",
			envVars: map[string]string{},
			want: func(t *testing.T, cfg *domain.Config) {
				assert.Equal(t, "harrier", cfg.App.Name)
				assert.Equal(t, "dev", cfg.App.Version)
				assert.Equal(t, "info", cfg.App.LogLevel)
				assert.Equal(t, "json", cfg.App.LogFormat)
				assert.Equal(t, 30*time.Second, cfg.App.ShutdownTimeout)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "sqlite", cfg.Primary.Driver)
				assert.Equal(t, "./harrier.db", cfg.Primary.SQLitePath)
				assert.Equal(t, "", cfg.Rules.Driver)
				assert.Equal(t, "memory", cfg.Cache.Type)
				assert.Equal(t, "harrier:cache", cfg.Cache.KeyPrefix)
				assert.Equal(t, "channel", cfg.EventBus.Type)
				assert.Equal(t, 8, cfg.Engine.MaxWorkers)
				assert.Equal(t, 2*time.Second, cfg.Engine.EvalTimeout)
				assert.True(t, cfg.Worker.Enabled)
			},
		},
		{
			name: "Should load custom environment variables correctly",
			envVars: map[string]string{
				"HARRIER_APP_NAME":            "harrier-test",
				"HARRIER_APP_LOG_LEVEL":       "debug",
				"HARRIER_APP_LOG_FORMAT":      "text",
				"HARRIER_SERVER_PORT":         "9090",
				"HARRIER_RULES_DRIVER":        "postgres",
				"HARRIER_RULES_POSTGRES_USER": "rules",
				"HARRIER_CACHE_TYPE":          "redis",
				"HARRIER_CACHE_REDIS_ADDR":    "redis:6379",
				"HARRIER_BUS_TYPE":            "nats",
				"HARRIER_ENGINE_MAX_WORKERS":  "16",
				"HARRIER_ENGINE_EVAL_TIMEOUT": "500ms",
				"HARRIER_WORKER_ENABLED":      "false",
			},
			want: func(t *testing.T, cfg *domain.Config) {
				assert.Equal(t, "harrier-test", cfg.App.Name)
				assert.Equal(t, "debug", cfg.App.LogLevel)
				assert.Equal(t, "text", cfg.App.LogFormat)
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, "postgres", cfg.Rules.Driver)
				assert.Equal(t, "rules", cfg.Rules.PostgresUser)
				assert.Equal(t, "redis", cfg.Cache.Type)
				assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
				assert.Equal(t, "nats", cfg.EventBus.Type)
				assert.Equal(t, 16, cfg.Engine.MaxWorkers)
				assert.Equal(t, 500*time.Millisecond, cfg.Engine.EvalTimeout)
				assert.False(t, cfg.Worker.Enabled)
			},
		},
		{
			name:    "Should fail validation on invalid log level",
			envVars: map[string]string{"HARRIER_APP_LOG_LEVEL": "trace"},
			wantErr: true,
		},
		{
			name:    "Should fail validation on unknown driver",
			envVars: map[string]string{"HARRIER_PRIMARY_DRIVER": "mysql"},
			wantErr: true,
		},
		{
			name:    "Should fail validation on unknown cache type",
			envVars: map[string]string{"HARRIER_CACHE_TYPE": "memcached"},
			wantErr: true,
		},
		{
			name:    "Should fail validation when postgres has no user",
			envVars: map[string]string{"HARRIER_PRIMARY_DRIVER": "pgx"},
			wantErr: true,
		},
		{
			name:    "Should fail validation on zero workers",
			envVars: map[string]string{"HARRIER_ENGINE_MAX_WORKERS": "0"},
			wantErr: true,
		},
		{
			name:    "Should fail on unparseable durations",
			envVars: map[string]string{"HARRIER_ENGINE_EVAL_TIMEOUT": "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// t.Setenv prevents parallel execution and restores values afterwards.
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.want(t, cfg)
		})
	}
}

func TestRulesRepository(t *testing.T) {
	t.Run("Should reuse the primary store when the rules driver is empty", func(t *testing.T) {
		cfg := domain.DefaultConfig()

		got, separate := RulesRepository(cfg)

		assert.False(t, separate)
		assert.Equal(t, cfg.Primary, got)
	})

	t.Run("Should use the rules store when a driver is set", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.Rules = domain.RepositoryConfig{Driver: "sqlite", SQLitePath: "./rules.db"}

		got, separate := RulesRepository(cfg)

		assert.True(t, separate)
		assert.Equal(t, "./rules.db", got.SQLitePath)
	})
}

func TestValidateDefaultConfig(t *testing.T) {
	assert.NoError(t, Validate(domain.DefaultConfig()))
}

func TestLogConfig(t *testing.T) {
	var buf bytes.Buffer
	cfg := domain.DefaultConfig()
	cfg.Primary.PostgresPassword = "secret"

	LogConfig(slog.New(slog.NewJSONHandler(&buf, nil)), cfg)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "configuration loaded", line["msg"])
	assert.Equal(t, "sqlite", line["primary_driver"])
	assert.Equal(t, false, line["rules_separate"])
	assert.NotContains(t, buf.String(), "secret")
}
