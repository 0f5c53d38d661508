package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
aggregator:
  flush_interval: 10s
  stale_window: 2m
  num_workers: 4
probe:
  nats_url: "nats://localhost:4222"
  subject: "sentry.packets.raw"
storage:
  type: memory
api:
  listen_addr: ":8080"
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	d, err := cfg.Aggregator.FlushIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)

	d, err = cfg.Aggregator.StaleWindowDuration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	assert.Equal(t, 4, cfg.Aggregator.NumWorkers)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "nats://localhost:4222", cfg.Probe.NATSURL)
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  type: memory\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	d, err := cfg.Aggregator.FlushIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = cfg.Aggregator.StaleWindowDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	d, err = cfg.Engine.ScanIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	d, err = cfg.Engine.ShutdownTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{not yaml"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)

	path = filepath.Join(t.TempDir(), "baddur.yaml")
	require.NoError(t, os.WriteFile(path, []byte("aggregator:\n  flush_interval: fast\n"), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	_, err = cfg.Aggregator.FlushIntervalDuration()
	assert.Error(t, err)
}
