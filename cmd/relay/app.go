package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/internal/runner"
	"github.com/ajitpratap0/relay/pkg/adapter"
	"github.com/ajitpratap0/relay/pkg/adapter/file"
	"github.com/ajitpratap0/relay/pkg/adapter/httpapi"
	"github.com/ajitpratap0/relay/pkg/adapter/kafka"
	"github.com/ajitpratap0/relay/pkg/adapter/mongodb"
	"github.com/ajitpratap0/relay/pkg/adapter/s3"
	"github.com/ajitpratap0/relay/pkg/adapter/sqldb"
	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/integration"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/store"
	"github.com/ajitpratap0/relay/pkg/tenantpool"
	"github.com/ajitpratap0/relay/pkg/transform"
)

// app is the wired engine shared by the commands
type app struct {
	cfg        *config.Config
	pool       *tenantpool.Manager
	notifier   *integration.Notifier
	store      store.Store
	adapters   *adapter.Registry
	transforms *transform.Registry
	runner     *runner.Runner
	logger     *zap.Logger
}

// loadConfig reads the configuration and initializes the global logger
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires the engine. A memory store replaces the SQL store when
// memory is set.
func newApp(ctx context.Context, cfg *config.Config, memory bool) (*app, error) {
	a := &app{
		cfg:        cfg,
		notifier:   integration.NewNotifier(),
		transforms: transform.New(logger.Named("transforms")),
		logger:     logger.Named("relay"),
	}

	pool, err := tenantpool.NewManager(cfg.Pool)
	if err != nil {
		return nil, err
	}
	a.pool = pool

	if memory || cfg.Store.Kind == "memory" {
		a.store = store.NewMemoryStore(a.notifier)
	} else {
		st := store.NewSQLStore(pool, cfg.Store.Tenant, a.notifier)
		if cfg.Store.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				_ = pool.DisposeAll()
				return nil, err
			}
		}
		a.store = st
	}

	a.adapters = adapter.NewRegistry(logger.Named("adapter_registry"))
	kinds := map[string]adapter.Factory{
		file.Kind:    file.Factory,
		httpapi.Kind: httpapi.Factory,
		sqldb.Kind:   sqldb.Factory(pool),
		mongodb.Kind: mongodb.Factory,
		kafka.Kind:   kafka.Factory,
		s3.Kind:      s3.Factory,
	}
	for kind, factory := range kinds {
		if err := a.adapters.Register(kind, factory); err != nil {
			_ = pool.DisposeAll()
			return nil, err
		}
	}
	if err := a.adapters.DefineAll(cfg.Adapters); err != nil {
		_ = pool.DisposeAll()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid adapter definitions")
	}

	a.runner = runner.New(a.store, a.adapters, a.transforms,
		runner.WithConfig(cfg.Runner),
		runner.WithLogger(logger.Named("runner")))
	return a, nil
}

// Close releases every database engine
func (a *app) Close() error {
	return a.pool.DisposeAll()
}
