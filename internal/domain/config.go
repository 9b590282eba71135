package domain

import "time"

// Config holds the complete RiskGuard configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Decision engine settings
	Engine EngineConfig `mapstructure:"engine"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"event_bus"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`

	// AsyncWorker enables the bus-driven ingestion worker.
	AsyncWorker bool `mapstructure:"async_worker"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// EngineConfig holds decision engine settings.
type EngineConfig struct {
	// KnownServices is the closed registry of service namespaces.
	KnownServices []string `mapstructure:"known_services"`

	// NotificationChannel is the subscriber messaging channel.
	NotificationChannel string `mapstructure:"notification_channel"`

	// CommitAttempts bounds retries after a profile version conflict.
	CommitAttempts int           `mapstructure:"commit_attempts"`
	CommitBackoff  time.Duration `mapstructure:"commit_backoff"`

	// RuleWorkers bounds concurrent condition evaluation per event.
	RuleWorkers int `mapstructure:"rule_workers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`

	// OTLPEndpoint is the gRPC collector address, e.g. "localhost:4317".
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// DefaultKnownServices is the service registry used when none is configured.
var DefaultKnownServices = []string{"Paycell", "BiP", "TV+", "Superonline"}

// DefaultConfig returns a single-node configuration: SQLite, in-memory
// cache and a channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Engine: EngineConfig{
			KnownServices:       append([]string(nil), DefaultKnownServices...),
			NotificationChannel: "BiP",
			CommitAttempts:      5,
			CommitBackoff:       10 * time.Millisecond,
			RuleWorkers:         4,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./riskguard.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ProfileTTL:   time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "riskguard",
		},
	}
}
