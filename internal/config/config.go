// Package config loads riskguard configuration from defaults, an optional
// YAML file, a .env file and RISKGUARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g.
// RISKGUARD_REPOSITORY_DRIVER=postgres.
const EnvPrefix = "RISKGUARD"

// Load builds the configuration. With an empty path riskguard.yaml is looked
// up in the working directory and /etc/riskguard, and a missing file is not
// an error. Values in .env are exported before the environment is read but
// never replace variables that are already set.
func Load(path string) (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, domain.DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("riskguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/riskguard")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the process cannot start with.
func Validate(cfg *domain.Config) error {
	switch cfg.Repository.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("%w: unsupported repository driver %q", domain.ErrInvalidInput, cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis", "none", "":
	default:
		return fmt.Errorf("%w: unsupported cache type %q", domain.ErrInvalidInput, cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats", "":
	default:
		return fmt.Errorf("%w: unsupported event bus type %q", domain.ErrInvalidInput, cfg.EventBus.Type)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", domain.ErrInvalidInput, cfg.Server.Port)
	}
	if cfg.Engine.CommitAttempts <= 0 {
		return fmt.Errorf("%w: engine.commit_attempts must be positive", domain.ErrInvalidInput)
	}
	if len(cfg.Engine.KnownServices) == 0 {
		return fmt.Errorf("%w: engine.known_services must not be empty", domain.ErrInvalidInput)
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *domain.Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("engine.known_services", d.Engine.KnownServices)
	v.SetDefault("engine.notification_channel", d.Engine.NotificationChannel)
	v.SetDefault("engine.commit_attempts", d.Engine.CommitAttempts)
	v.SetDefault("engine.commit_backoff", d.Engine.CommitBackoff)
	v.SetDefault("engine.rule_workers", d.Engine.RuleWorkers)

	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlite_path", d.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", "localhost")
	v.SetDefault("repository.postgres_port", 5432)
	v.SetDefault("repository.postgres_user", "riskguard")
	v.SetDefault("repository.postgres_password", "")
	v.SetDefault("repository.postgres_db", "riskguard")
	v.SetDefault("repository.postgres_sslmode", "disable")
	v.SetDefault("repository.max_open_conns", d.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", d.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", d.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.local_max_size", d.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", d.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.profile_ttl", d.Cache.ProfileTTL)
	v.SetDefault("cache.enable_two_phase", d.Cache.EnableTwoPhase)

	v.SetDefault("event_bus.type", d.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", d.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", "nats://localhost:4222")
	v.SetDefault("event_bus.nats_token", "")
	v.SetDefault("event_bus.nats_max_reconnects", 10)
	v.SetDefault("event_bus.nats_reconnect_wait", 5)
	v.SetDefault("event_bus.nats_queue_group", "riskguard")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.otlp_endpoint", "")

	v.SetDefault("async_worker", d.AsyncWorker)
}
