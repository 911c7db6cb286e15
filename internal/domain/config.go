package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	App    AppConfig    `envconfig:"APP"`
	Server ServerConfig `envconfig:"SERVER"`

	// Primary holds products and transactions.
	Primary RepositoryConfig `envconfig:"PRIMARY"`

	// Rules holds rule definitions and the execution log. An empty driver
	// reuses the primary connection.
	Rules RepositoryConfig `envconfig:"RULES"`

	Cache    CacheConfig    `envconfig:"CACHE"`
	EventBus EventBusConfig `envconfig:"BUS"`
	Engine   EngineConfig   `envconfig:"ENGINE"`
	Worker   WorkerConfig   `envconfig:"WORKER"`
}

// AppConfig contains process-wide settings.
type AppConfig struct {
	Name            string        `envconfig:"NAME" default:"harrier"`
	Version         string        `envconfig:"VERSION" default:"dev"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat       string        `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json text"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `envconfig:"HOST" default:"0.0.0.0"`
	Port         int           `envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
}

// EngineConfig tunes rule evaluation.
type EngineConfig struct {
	// MaxWorkers bounds concurrent rule evaluations per request.
	MaxWorkers int `envconfig:"MAX_WORKERS" default:"8" validate:"min=1"`

	// EvalTimeout bounds a single rule evaluation. Zero disables it.
	EvalTimeout time.Duration `envconfig:"EVAL_TIMEOUT" default:"2s" validate:"min=0"`
}

// WorkerConfig controls the asynchronous recommendation worker.
type WorkerConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`
}

// DefaultConfig returns a single-node configuration: SQLite, in-memory
// cache and channel bus.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:            "harrier",
			Version:         "dev",
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: 30 * time.Second,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Primary: RepositoryConfig{
			Driver:          "sqlite",
			SQLitePath:      "./harrier.db",
			PostgresHost:    "localhost",
			PostgresPort:    5432,
			PostgresDB:      "harrier",
			PostgresSSLMode: "disable",
		},
		Rules: RepositoryConfig{
			SQLitePath:      "./harrier.db",
			PostgresHost:    "localhost",
			PostgresPort:    5432,
			PostgresDB:      "harrier",
			PostgresSSLMode: "disable",
		},
		Cache: CacheConfig{
			Type:      "memory",
			KeyPrefix: "harrier:cache",
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Engine: EngineConfig{
			MaxWorkers:  8,
			EvalTimeout: 2 * time.Second,
		},
		Worker: WorkerConfig{Enabled: true},
	}
}
