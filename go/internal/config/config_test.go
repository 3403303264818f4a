package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, StorageMemory, c.Storage.Driver)
	assert.Equal(t, PropagationLocal, c.Propagation.Driver)
	assert.Equal(t, 4, c.Game.MaxCardsPerPlayer)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := writeFile(t, `
log_level: debug
storage:
  driver: redis
  redis_addr: redis:6379
game:
  pre_countdown_seconds: 5
  claim_cooldown: 3s
  admin_names: [Fabio]
`)
	t.Setenv("PORT", "9090")
	t.Setenv("CLAIM_COOLDOWN", "7s")
	t.Setenv("ADMIN_NAMES", "Fabio, Ana ,")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "9090", c.Server.Port)
	assert.Equal(t, StorageRedis, c.Storage.Driver)
	assert.Equal(t, "redis:6379", c.Storage.RedisAddr)
	assert.Equal(t, 5, c.Game.PreCountdownSeconds)
	assert.Equal(t, 7*time.Second, c.Game.ClaimCooldown)
	assert.Equal(t, []string{"Fabio", "Ana"}, c.Game.AdminNames)
}

func TestLoad_InvalidEnvironmentValuesKeepPreviousValue(t *testing.T) {
	t.Setenv("PRE_COUNTDOWN_SECONDS", "ten")
	t.Setenv("DRAW_PAUSE", "soon")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, c.Game.PreCountdownSeconds)
	assert.Equal(t, time.Second, c.Game.DrawPause)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeFile(t, "storage: ["))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "sqlite" }, false},
		{"unknown propagation", func(c *Config) { c.Propagation.Driver = "kafka" }, false},
		{"postgres notify without postgres storage", func(c *Config) { c.Propagation.Driver = PropagationPostgres }, false},
		{"postgres notify with postgres storage", func(c *Config) {
			c.Storage.Driver = StoragePostgres
			c.Propagation.Driver = PropagationPostgres
		}, true},
		{"nats with memory storage", func(c *Config) { c.Propagation.Driver = PropagationNATS }, false},
		{"nats with redis", func(c *Config) {
			c.Storage.Driver = StorageRedis
			c.Propagation.Driver = PropagationNATS
		}, true},
		{"empty room", func(c *Config) { c.Storage.RoomID = "" }, false},
		{"heartbeat slower than lease", func(c *Config) { c.Game.CallerHeartbeat = c.Game.CallerLeaseTTL }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.modify(c)
			err := c.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
