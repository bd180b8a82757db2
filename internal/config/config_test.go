package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("PUBLISHQUEUE_DATABASE__URL", "")

	_, err := Load("")
	assert.ErrorContains(t, err, "database.url")
}

func TestLoad_DefaultsApply(t *testing.T) {
	t.Setenv("PUBLISHQUEUE_DATABASE__URL", "postgres://localhost/publishqueue")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Queue.Enabled)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Queue.MaxBackoff)
}

func TestLoad_EnvOverridesNestedKeys(t *testing.T) {
	t.Setenv("PUBLISHQUEUE_DATABASE__URL", "postgres://localhost/publishqueue")
	t.Setenv("PUBLISHQUEUE_SERVER__READ_TIMEOUT", "42s")
	t.Setenv("PUBLISHQUEUE_QUEUE__ENABLED", "false")
	t.Setenv("PUBLISHQUEUE_LOG__LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 42*time.Second, cfg.Server.ReadTimeout)
	assert.False(t, cfg.Queue.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: postgres://from-file/db
log:
  level: warn
queue:
  max_attempts: 7
`), 0o600))

	t.Setenv("PUBLISHQUEUE_LOG__LEVEL", "error")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://from-file/db", cfg.Database.URL)
	assert.Equal(t, "error", cfg.Log.Level, "environment wins over the file")
	assert.Equal(t, 7, cfg.Queue.MaxAttempts)
	assert.Equal(t, "8080", cfg.Server.Port, "untouched keys keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
