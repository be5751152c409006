package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/reportmill.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 4, cfg.Executor.Workers)
	assert.Equal(t, 50, cfg.Executor.PreviewRows)
	assert.Equal(t, time.Minute, cfg.TickInterval())
	assert.Equal(t, 5*time.Minute, cfg.RunTimeout())
	assert.Equal(t, 30*time.Second, cfg.WebhookTimeout())
	assert.Equal(t, time.Second, cfg.BackoffBase())
	assert.Equal(t, 3, cfg.Delivery.MaxAttempts)
}

func TestLoadConfigFromFile(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	yaml := `
server:
  port: 9090
dispatcher:
  tickseconds: 15
executor:
  workers: 8
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(yaml), 0644))

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.TickInterval())
	assert.Equal(t, 8, cfg.Executor.Workers)
	// untouched keys keep their defaults
	assert.Equal(t, "data/reportmill.db", cfg.Database.Path)
}
