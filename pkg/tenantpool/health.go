package tenantpool

import (
	"context"
	"time"
)

// HealthStatus is the outcome of a health check
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// healthQuery checks connectivity
const healthQuery = "SELECT 1"

// Health reports a tenant engine's connectivity and pool occupancy
type Health struct {
	Tenant          string        `json:"tenant"`
	Status          HealthStatus  `json:"status"`
	Error           string        `json:"error,omitempty"`
	Latency         time.Duration `json:"latency"`
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
	MaxOpen         int           `json:"max_open"`
	WaitCount       int64         `json:"wait_count"`
	WaitDuration    time.Duration `json:"wait_duration"`
}

// HealthCheck pings the tenant's engine through a checked-out session, so
// the ping shows up in the checkout and query metrics. It never opens an
// engine: a tenant without one is reported as unknown.
func (m *Manager) HealthCheck(ctx context.Context, tenant string) Health {
	e, ok := m.lookup(tenant)
	if !ok {
		key, _ := m.Resolve(tenant)
		if key == "" {
			key = tenant
		}
		return Health{Tenant: key, Status: HealthUnknown}
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := m.ping(pingCtx, e)
	h := Health{Tenant: e.Tenant, Status: HealthHealthy, Latency: time.Since(start)}
	if err != nil {
		h.Status = HealthUnhealthy
		h.Error = err.Error()
	}

	stats := e.DB.Stats()
	h.OpenConnections = stats.OpenConnections
	h.InUse = stats.InUse
	h.Idle = stats.Idle
	h.MaxOpen = stats.MaxOpenConnections
	h.WaitCount = stats.WaitCount
	h.WaitDuration = stats.WaitDuration
	return h
}

func (m *Manager) ping(ctx context.Context, e *Engine) error {
	sess, err := m.checkout(ctx, e)
	if err != nil {
		return err
	}
	defer sess.Close()

	var one int
	return sess.QueryRow(ctx, healthQuery).Scan(&one)
}
