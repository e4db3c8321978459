// Package tenantpool manages one database engine per tenant.
//
// Each tenant key gets its own *sql.DB sized from the pool configuration,
// so one tenant exhausting its connections never starves another. With
// tenant isolation disabled every key shares a single "default" engine.
// Sessions are checked out through the manager, which records checkout,
// checkin and query metrics at the moment a physical connection is handed
// out or returned.
package tenantpool

import (
	"context"
	"database/sql"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/relay/pkg/config"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/logger"
)

// DefaultTenant is the key every tenant resolves to without isolation
const DefaultTenant = "default"

// validKey restricts tenant keys to characters safe inside a DSN
var validKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Opener opens a database handle; sql.Open by default
type Opener func(driver, dsn string) (*sql.DB, error)

// Engine is one tenant's database handle and metrics
type Engine struct {
	Tenant  string
	DB      *sql.DB
	Metrics *Collector

	maxOpen int
}

// Manager owns every tenant engine. Safe for concurrent use.
type Manager struct {
	cfg     config.PoolConfig
	open    Opener
	logger  *zap.Logger
	mu      sync.Mutex
	engines map[string]*Engine
}

// Option configures a Manager
type Option func(*Manager)

// WithOpener replaces sql.Open
func WithOpener(open Opener) Option {
	return func(m *Manager) { m.open = open }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager validates cfg and creates a manager with no engines
func NewManager(cfg config.PoolConfig, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid pool configuration")
	}
	m := &Manager{
		cfg:     cfg,
		open:    sql.Open,
		logger:  logger.Named("tenant_pool"),
		engines: make(map[string]*Engine),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the pool configuration
func (m *Manager) Config() config.PoolConfig {
	return m.cfg
}

// Resolve maps a tenant key to the engine key it uses
func (m *Manager) Resolve(tenant string) (string, error) {
	if !m.cfg.TenantIsolation || tenant == "" {
		return DefaultTenant, nil
	}
	if !validKey.MatchString(tenant) {
		return "", errors.Newf(errors.ErrorTypeValidation, "invalid tenant key %q", tenant)
	}
	return tenant, nil
}

// GetEngine returns the tenant's engine, opening it on first use
func (m *Manager) GetEngine(tenant string) (*Engine, error) {
	key, err := m.Resolve(tenant)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.engines[key]; ok {
		return e, nil
	}

	db, err := m.open(m.cfg.Driver, m.cfg.DSNFor(key))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open tenant engine").
			WithDetail("tenant", key)
	}
	db.SetMaxOpenConns(m.cfg.MaxConnections())
	db.SetMaxIdleConns(m.cfg.PoolSize)
	db.SetConnMaxLifetime(m.cfg.Recycle)

	e := &Engine{
		Tenant:  key,
		DB:      db,
		Metrics: NewCollector(key, m.cfg.PoolSize, m.cfg.WindowSize),
		maxOpen: m.cfg.MaxConnections(),
	}
	m.engines[key] = e

	m.logger.Info("tenant engine created",
		zap.String("tenant", key),
		zap.String("driver", m.cfg.Driver),
		zap.Int("pool_size", m.cfg.PoolSize),
		zap.Int("max_overflow", m.cfg.MaxOverflow))
	return e, nil
}

// lookup returns an existing engine without creating one
func (m *Manager) lookup(tenant string) (*Engine, bool) {
	key, err := m.Resolve(tenant)
	if err != nil {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[key]
	return e, ok
}

// Tenants returns the keys of the active engines, sorted
func (m *Manager) Tenants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.engines))
	for k := range m.engines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SessionMaker checks out sessions for one tenant
type SessionMaker func(ctx context.Context) (*Session, error)

// GetSessionMaker returns a factory of sessions bound to the tenant's engine
func (m *Manager) GetSessionMaker(tenant string) (SessionMaker, error) {
	e, err := m.GetEngine(tenant)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (*Session, error) {
		return m.checkout(ctx, e)
	}, nil
}

// checkout waits up to the configured timeout for a physical connection
func (m *Manager) checkout(ctx context.Context, e *Engine) (*Session, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	conn, err := e.DB.Conn(waitCtx)
	wait := time.Since(start)
	if err != nil {
		if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			e.Metrics.Timeout()
			if e.Metrics.InUse() >= e.maxOpen {
				return nil, errors.PoolExhaustion(err, e.Tenant, e.maxOpen)
			}
			return nil, errors.ConnectionTimeout(err, e.Tenant)
		}
		e.Metrics.Error()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to check out connection").
			WithDetail("tenant", e.Tenant)
	}

	e.Metrics.Checkout(wait)
	return &Session{engine: e, conn: conn, checkedOut: time.Now()}, nil
}

// SessionScope checks out a session, begins a transaction and runs fn.
// The transaction commits when fn returns nil. When fn fails or panics the
// transaction is rolled back before the error or panic propagates. The
// session is closed on every path.
func (m *Manager) SessionScope(ctx context.Context, tenant string, fn func(*Session) error) (err error) {
	maker, err := m.GetSessionMaker(tenant)
	if err != nil {
		return err
	}
	sess, err := maker(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Begin(ctx); err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := sess.Rollback(); rbErr != nil {
				m.logger.Warn("rollback after panic failed", zap.String("tenant", sess.Tenant()), zap.Error(rbErr))
			}
			panic(p)
		}
	}()

	if err := fn(sess); err != nil {
		if rbErr := sess.Rollback(); rbErr != nil {
			m.logger.Warn("rollback failed", zap.String("tenant", sess.Tenant()), zap.Error(rbErr))
		}
		return err
	}
	return sess.Commit()
}

// ReadScope checks out a session without a transaction, runs fn and closes
// the session
func (m *Manager) ReadScope(ctx context.Context, tenant string, fn func(*Session) error) error {
	maker, err := m.GetSessionMaker(tenant)
	if err != nil {
		return err
	}
	sess, err := maker(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(sess)
}

// Metrics returns one tenant's metrics, or false when no engine exists
func (m *Manager) Metrics(tenant string) (Snapshot, bool) {
	e, ok := m.lookup(tenant)
	if !ok {
		return Snapshot{}, false
	}
	return e.Metrics.Snapshot(), true
}

// GlobalMetrics aggregates the metrics of every tenant
func (m *Manager) GlobalMetrics() Snapshot {
	m.mu.Lock()
	collectors := make([]*Collector, 0, len(m.engines))
	for _, e := range m.engines {
		collectors = append(collectors, e.Metrics)
	}
	m.mu.Unlock()
	return aggregate(collectors)
}

// ResetMetrics zeroes every tenant's metrics without touching connections
func (m *Manager) ResetMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.engines {
		e.Metrics.Reset()
	}
}

// Dispose closes the tenant's engine and forgets it
func (m *Manager) Dispose(tenant string) error {
	key, err := m.Resolve(tenant)
	if err != nil {
		return err
	}

	m.mu.Lock()
	e, ok := m.engines[key]
	delete(m.engines, key)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	m.logger.Info("tenant engine disposed", zap.String("tenant", key))
	return e.DB.Close()
}

// DisposeAll closes every engine concurrently
func (m *Manager) DisposeAll() error {
	m.mu.Lock()
	engines := m.engines
	m.engines = make(map[string]*Engine)
	m.mu.Unlock()

	var g errgroup.Group
	for key, e := range engines {
		key, e := key, e
		g.Go(func() error {
			if err := e.DB.Close(); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close tenant engine").
					WithDetail("tenant", key)
			}
			return nil
		})
	}
	return g.Wait()
}
