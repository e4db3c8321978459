package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/relay/pkg/logger"
)

// Config is the root configuration of the engine.
type Config struct {
	Logging   logger.Config   `yaml:"logging" json:"logging" mapstructure:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler" mapstructure:"scheduler"`
	Runner    RunnerConfig    `yaml:"runner" json:"runner" mapstructure:"runner"`
	Pool      PoolConfig      `yaml:"pool" json:"pool" mapstructure:"pool"`
	Store     StoreConfig     `yaml:"store" json:"store" mapstructure:"store"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics" mapstructure:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing" json:"tracing" mapstructure:"tracing"`

	// Adapters are the named source and destination adapters integrations refer to
	Adapters map[string]AdapterConfig `yaml:"adapters" json:"adapters" mapstructure:"adapters"`
}

// SchedulerConfig controls the polling loop.
type SchedulerConfig struct {
	// TickInterval is how often the loop evaluates every task
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval" mapstructure:"tick_interval"`
	// Debounce is the minimum gap between two dispatches of the same task
	Debounce time.Duration `yaml:"debounce" json:"debounce" mapstructure:"debounce"`
	// MaxConcurrentRuns bounds dispatched runs in flight (0 = unlimited)
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" json:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
}

// RunnerConfig controls integration runs.
type RunnerConfig struct {
	// ExclusiveRuns rejects a run while another run of the same integration is in flight
	ExclusiveRuns bool `yaml:"exclusive_runs" json:"exclusive_runs" mapstructure:"exclusive_runs"`
	// OutputDir is where generated file paths are placed for blob destinations
	OutputDir string `yaml:"output_dir" json:"output_dir" mapstructure:"output_dir"`
}

// PoolConfig controls per-tenant database engines.
type PoolConfig struct {
	// TenantIsolation gives each tenant key its own engine; when false every key shares "default"
	TenantIsolation bool `yaml:"tenant_isolation" json:"tenant_isolation" mapstructure:"tenant_isolation"`
	// Driver is the database/sql driver name (pgx, mysql, sqlite, sqlserver)
	Driver string `yaml:"driver" json:"driver" mapstructure:"driver"`
	// DSN is the data source name; {tenant} is replaced by the tenant key
	DSN string `yaml:"dsn" json:"dsn" mapstructure:"dsn"`
	// PoolSize is the number of idle connections kept per engine
	PoolSize int `yaml:"pool_size" json:"pool_size" mapstructure:"pool_size"`
	// MaxOverflow is how many connections may be opened beyond PoolSize
	MaxOverflow int `yaml:"max_overflow" json:"max_overflow" mapstructure:"max_overflow"`
	// Timeout bounds how long a checkout may wait
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
	// Recycle is the maximum lifetime of a physical connection
	Recycle time.Duration `yaml:"recycle" json:"recycle" mapstructure:"recycle"`
	// WindowSize is the capacity of each rolling latency window
	WindowSize int `yaml:"window_size" json:"window_size" mapstructure:"window_size"`
	// MinRecommendedSize floors pool sizing recommendations
	MinRecommendedSize int `yaml:"min_recommended_size" json:"min_recommended_size" mapstructure:"min_recommended_size"`
}

// StoreConfig selects the integration configuration store.
type StoreConfig struct {
	// Kind is "sql" or "memory"
	Kind string `yaml:"kind" json:"kind" mapstructure:"kind"`
	// Tenant is the pool tenant key the SQL store uses
	Tenant string `yaml:"tenant" json:"tenant" mapstructure:"tenant"`
	// AutoMigrate creates the store tables on startup
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate" mapstructure:"auto_migrate"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Address string `yaml:"address" json:"address" mapstructure:"address"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Exporter    string  `yaml:"exporter" json:"exporter" mapstructure:"exporter"` // stdout or none
	SampleRatio float64 `yaml:"sample_ratio" json:"sample_ratio" mapstructure:"sample_ratio"`
	ServiceName string  `yaml:"service_name" json:"service_name" mapstructure:"service_name"`
}

// Default returns a Config with production defaults.
func Default() *Config {
	return &Config{
		Logging: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Scheduler: SchedulerConfig{
			TickInterval:      time.Second,
			Debounce:          60 * time.Second,
			MaxConcurrentRuns: 0,
		},
		Runner: RunnerConfig{
			ExclusiveRuns: false,
			OutputDir:     "output",
		},
		Pool: PoolConfig{
			TenantIsolation:    true,
			Driver:             "sqlite",
			DSN:                "file:relay_{tenant}.db",
			PoolSize:           5,
			MaxOverflow:        10,
			Timeout:            30 * time.Second,
			Recycle:            30 * time.Minute,
			WindowSize:         1000,
			MinRecommendedSize: 5,
		},
		Store: StoreConfig{
			Kind:        "sql",
			Tenant:      "relay",
			AutoMigrate: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9464",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "none",
			SampleRatio: 1.0,
			ServiceName: "relay",
		},
		Adapters: map[string]AdapterConfig{},
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	if c.Scheduler.Debounce < 0 {
		return fmt.Errorf("scheduler.debounce cannot be negative")
	}
	if c.Scheduler.MaxConcurrentRuns < 0 {
		return fmt.Errorf("scheduler.max_concurrent_runs cannot be negative")
	}
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	switch c.Store.Kind {
	case "sql", "memory":
	default:
		return fmt.Errorf("store.kind must be sql or memory, got %q", c.Store.Kind)
	}
	if c.Store.Kind == "sql" && c.Store.Tenant == "" {
		return fmt.Errorf("store.tenant is required for the sql store")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	for name, a := range c.Adapters {
		if a.Kind == "" {
			return fmt.Errorf("adapters.%s.kind is required", name)
		}
	}
	return nil
}

// Validate checks the pool section.
func (p *PoolConfig) Validate() error {
	if p.Driver == "" {
		return fmt.Errorf("pool.driver is required")
	}
	if p.DSN == "" {
		return fmt.Errorf("pool.dsn is required")
	}
	if p.TenantIsolation && !strings.Contains(p.DSN, "{tenant}") {
		return fmt.Errorf("pool.dsn must contain {tenant} when tenant_isolation is enabled")
	}
	if p.PoolSize <= 0 {
		return fmt.Errorf("pool.pool_size must be positive")
	}
	if p.MaxOverflow < 0 {
		return fmt.Errorf("pool.max_overflow cannot be negative")
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("pool.timeout must be positive")
	}
	if p.WindowSize <= 0 {
		return fmt.Errorf("pool.window_size must be positive")
	}
	return nil
}

// MaxConnections is the hard ceiling of open connections per engine.
func (p *PoolConfig) MaxConnections() int {
	return p.PoolSize + p.MaxOverflow
}

// DSNFor renders the DSN for a tenant key.
func (p *PoolConfig) DSNFor(tenant string) string {
	return strings.ReplaceAll(p.DSN, "{tenant}", tenant)
}
