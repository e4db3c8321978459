package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. RELAY_POOL_DSN.
const EnvPrefix = "RELAY"

// Load builds a Config from defaults, an optional YAML file and RELAY_*
// environment variables, in increasing order of precedence. The result is
// validated before it is returned.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.ReadConfig(strings.NewReader(substituteEnvVars(string(data)))); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Adapters == nil {
		cfg.Adapters = map[string]AdapterConfig{}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("logging.encoding", d.Logging.Encoding)

	v.SetDefault("scheduler.tick_interval", d.Scheduler.TickInterval)
	v.SetDefault("scheduler.debounce", d.Scheduler.Debounce)
	v.SetDefault("scheduler.max_concurrent_runs", d.Scheduler.MaxConcurrentRuns)

	v.SetDefault("runner.exclusive_runs", d.Runner.ExclusiveRuns)
	v.SetDefault("runner.output_dir", d.Runner.OutputDir)

	v.SetDefault("pool.tenant_isolation", d.Pool.TenantIsolation)
	v.SetDefault("pool.driver", d.Pool.Driver)
	v.SetDefault("pool.dsn", d.Pool.DSN)
	v.SetDefault("pool.pool_size", d.Pool.PoolSize)
	v.SetDefault("pool.max_overflow", d.Pool.MaxOverflow)
	v.SetDefault("pool.timeout", d.Pool.Timeout)
	v.SetDefault("pool.recycle", d.Pool.Recycle)
	v.SetDefault("pool.window_size", d.Pool.WindowSize)
	v.SetDefault("pool.min_recommended_size", d.Pool.MinRecommendedSize)

	v.SetDefault("store.kind", d.Store.Kind)
	v.SetDefault("store.tenant", d.Store.Tenant)
	v.SetDefault("store.auto_migrate", d.Store.AutoMigrate)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}
