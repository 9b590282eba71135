package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/riskguard/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	def := domain.DefaultConfig()
	assert.Equal(t, def.Server.Port, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, domain.DefaultKnownServices, cfg.Engine.KnownServices)
	assert.Equal(t, "BiP", cfg.Engine.NotificationChannel)
	assert.Equal(t, 5, cfg.Engine.CommitAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.Engine.CommitBackoff)
	assert.False(t, cfg.AsyncWorker)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := writeFile(t, dir, "custom.yaml", `
server:
  port: 9090
repository:
  driver: memory
engine:
  known_services: [Paycell, BiP]
  commit_backoff: 25ms
cache:
  type: none
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Repository.Driver)
	assert.Equal(t, []string{"Paycell", "BiP"}, cfg.Engine.KnownServices)
	assert.Equal(t, 25*time.Millisecond, cfg.Engine.CommitBackoff)
	assert.Equal(t, "none", cfg.Cache.Type)
	// untouched keys keep their defaults
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadDiscoversFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, "riskguard.yaml", "logging:\n  format: text\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RISKGUARD_SERVER_PORT", "7070")
	t.Setenv("RISKGUARD_REPOSITORY_DRIVER", "memory")
	t.Setenv("RISKGUARD_ENGINE_KNOWN_SERVICES", "Paycell,TV+")
	t.Setenv("RISKGUARD_EVENT_BUS_NATS_QUEUE_GROUP", "workers")
	t.Setenv("RISKGUARD_ASYNC_WORKER", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Repository.Driver)
	assert.Equal(t, []string{"Paycell", "TV+"}, cfg.Engine.KnownServices)
	assert.Equal(t, "workers", cfg.EventBus.NATSQueueGroup)
	assert.True(t, cfg.AsyncWorker)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "RISKGUARD_ENGINE_NOTIFICATION_CHANNEL=SMS\n")
	t.Cleanup(func() { os.Unsetenv("RISKGUARD_ENGINE_NOTIFICATION_CHANNEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "SMS", cfg.Engine.NotificationChannel)
}

func TestLoadErrors(t *testing.T) {
	t.Run("explicit file missing", func(t *testing.T) {
		t.Chdir(t.TempDir())
		_, err := Load("/nonexistent/riskguard.yaml")
		assert.Error(t, err)
	})

	t.Run("unsupported driver", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("RISKGUARD_REPOSITORY_DRIVER", "mongo")
		_, err := Load("")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
	}{
		{"bad cache", func(c *domain.Config) { c.Cache.Type = "memcached" }},
		{"bad bus", func(c *domain.Config) { c.EventBus.Type = "kafka" }},
		{"bad port", func(c *domain.Config) { c.Server.Port = 0 }},
		{"no attempts", func(c *domain.Config) { c.Engine.CommitAttempts = 0 }},
		{"no services", func(c *domain.Config) { c.Engine.KnownServices = nil }},
	}

	require.NoError(t, Validate(domain.DefaultConfig()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, Validate(cfg), domain.ErrInvalidInput)
		})
	}
}
