package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.Room.LockTimeout)
	assert.Equal(t, time.Minute, cfg.Room.RematchTimeout)
	assert.Equal(t, 10*time.Second, cfg.Room.DeclineNoticeTTL)
	assert.Equal(t, "memory", cfg.Ledger.Driver)
	assert.Equal(t, int64(1000), cfg.Ledger.StartingBalance)
	assert.Equal(t, "file", cfg.Persist.Backend)
	assert.Equal(t, 30*time.Second, cfg.Realtime.HeartbeatInterval)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
http:
  port: 9000
room:
  lock_timeout: 2s
persist:
  backend: none
ledger:
  driver: http
  endpoint: http://portal.local/api/shells
database:
  host: db.internal
  port: 6543
  user: u
  password: p
  name: games
  ssl_mode: require
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("ARENA_HTTP_PORT", "9100")
	t.Setenv("ARENA_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.HTTP.Port)
	assert.Equal(t, 2*time.Second, cfg.Room.LockTimeout)
	assert.Equal(t, "none", cfg.Persist.Backend)
	assert.Equal(t, "http://portal.local/api/shells", cfg.Ledger.Endpoint)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres://u:p@db.internal:6543/games?sslmode=require", cfg.Database.DSN())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.Persist.Backend = "s3" }},
		{"unknown ledger", func(c *Config) { c.Ledger.Driver = "chain" }},
		{"http ledger without endpoint", func(c *Config) { c.Ledger.Driver = "http" }},
		{"postgres without database", func(c *Config) { c.Persist.Backend = "postgres" }},
		{"redis without redis", func(c *Config) { c.Persist.Backend = "redis" }},
		{"node id", func(c *Config) { c.App.NodeID = 4096 }},
		{"nats with local file backend", func(c *Config) { c.NATS.Enabled = true }},
		{"nats without persistence", func(c *Config) { c.NATS.Enabled = true; c.Persist.Backend = "none" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mod(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateNATSWithSharedBackend(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.NATS.Enabled = true
	cfg.Persist.Backend = "redis"
	cfg.Redis.Enabled = true
	assert.NoError(t, cfg.Validate())
}
