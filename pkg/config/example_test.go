package config_test

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ajitpratap0/relay/pkg/config"
)

// ExampleDefault demonstrates the defaults every deployment starts from.
func ExampleDefault() {
	cfg := config.Default()

	fmt.Printf("Tick: %s\n", cfg.Scheduler.TickInterval)
	fmt.Printf("Debounce: %s\n", cfg.Scheduler.Debounce)
	fmt.Printf("Pool: %d+%d\n", cfg.Pool.PoolSize, cfg.Pool.MaxOverflow)

	// Output:
	// Tick: 1s
	// Debounce: 1m0s
	// Pool: 5+10
}

// ExampleConfig_Validate shows how to validate a configuration
// before using it.
func ExampleConfig_Validate() {
	cfg := config.Default()
	cfg.Pool.PoolSize = 20
	cfg.Pool.Timeout = 5 * time.Second

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	fmt.Println("Configuration is valid!")

	cfg.Pool.PoolSize = 0
	fmt.Println(cfg.Validate())

	// Output:
	// Configuration is valid!
	// pool.pool_size must be positive
}

// ExampleLoad demonstrates loading configuration from a YAML file with
// environment variable substitution.
func ExampleLoad() {
	dir, _ := os.MkdirTemp("", "relay-config")
	defer os.RemoveAll(dir)

	os.Setenv("EXAMPLE_DB_HOST", "db.internal")
	defer os.Unsetenv("EXAMPLE_DB_HOST")

	path := filepath.Join(dir, "relay.yaml")
	_ = os.WriteFile(path, []byte(`
pool:
  driver: pgx
  dsn: postgres://${EXAMPLE_DB_HOST}/{tenant}
  pool_size: 8
`), 0o600)

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(cfg.Pool.DSNFor("acme"))
	fmt.Println(cfg.Pool.MaxConnections())

	// Output:
	// postgres://db.internal/acme
	// 18
}
