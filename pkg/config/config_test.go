package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero tick", func(c *Config) { c.Scheduler.TickInterval = 0 }, "tick_interval"},
		{"negative debounce", func(c *Config) { c.Scheduler.Debounce = -time.Second }, "debounce"},
		{"missing driver", func(c *Config) { c.Pool.Driver = "" }, "pool.driver"},
		{"negative overflow", func(c *Config) { c.Pool.MaxOverflow = -1 }, "max_overflow"},
		{"isolated dsn without tenant", func(c *Config) { c.Pool.DSN = "file:relay.db" }, "{tenant}"},
		{"bad store", func(c *Config) { c.Store.Kind = "redis" }, "store.kind"},
		{"sql store without tenant", func(c *Config) { c.Store.Tenant = "" }, "store.tenant"},
		{"bad sample ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }, "sample_ratio"},
		{"adapter without kind", func(c *Config) {
			c.Adapters["crm"] = AdapterConfig{}
		}, "adapters.crm.kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadLayersFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  debounce: 30s
pool:
  pool_size: 3
adapters:
  warehouse:
    kind: sql
    settings:
      tenant: acme
`), 0o600))

	t.Setenv("RELAY_POOL_MAX_OVERFLOW", "7")
	t.Setenv("RELAY_RUNNER_EXCLUSIVE_RUNS", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Scheduler.Debounce)
	assert.Equal(t, time.Second, cfg.Scheduler.TickInterval)
	assert.Equal(t, 3, cfg.Pool.PoolSize)
	assert.Equal(t, 7, cfg.Pool.MaxOverflow)
	assert.True(t, cfg.Runner.ExclusiveRuns)
	require.Contains(t, cfg.Adapters, "warehouse")
	assert.Equal(t, "sql", cfg.Adapters["warehouse"].Kind)
	assert.Equal(t, "acme", cfg.Adapters["warehouse"].Settings["tenant"])
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Pool, cfg.Pool)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("RELAY_TEST_HOST", "db")

	assert.Equal(t, "host=db port=5432", substituteEnvVars("host=${RELAY_TEST_HOST} port=${RELAY_TEST_PORT:-5432}"))
	assert.Equal(t, "x=", substituteEnvVars("x=${RELAY_TEST_UNSET}"))
	assert.Equal(t, "dsn/{tenant}", substituteEnvVars("dsn/{tenant}"))
	assert.Equal(t, "broken ${", substituteEnvVars("broken ${"))
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")
	in := Default().Pool
	in.PoolSize = 9

	require.NoError(t, SaveFile(path, in))

	var out PoolConfig
	require.NoError(t, LoadFile(path, &out))
	assert.Equal(t, in, out)
}

func TestDecodeSettings(t *testing.T) {
	var s HTTPSettings
	err := Decode(map[string]interface{}{
		"base_url":    "https://api.example.com",
		"timeout":     "15s",
		"max_retries": "4",
		"headers":     map[string]interface{}{"X-Key": "k"},
		"oauth": map[string]interface{}{
			"token_url": "https://auth.example.com/token",
			"scopes":    "read,write",
		},
	}, &s)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", s.BaseURL)
	assert.Equal(t, 15*time.Second, s.Timeout)
	assert.Equal(t, uint64(4), s.MaxRetries)
	assert.Equal(t, "k", s.Headers["X-Key"])
	require.NotNil(t, s.OAuth)
	assert.Equal(t, []string{"read", "write"}, s.OAuth.Scopes)
}
