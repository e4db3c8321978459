package tenantpool

import (
	"sync"
	"time"

	"github.com/ajitpratap0/relay/pkg/metrics"
)

// Snapshot is a point-in-time view of one tenant's pool metrics, or the
// aggregate of every tenant
type Snapshot struct {
	Tenant             string              `json:"tenant"`
	ConnectionsInUse   int                 `json:"connections_in_use"`
	PeakConnections    int                 `json:"peak_connections"`
	TotalCheckouts     int64               `json:"total_checkouts"`
	TotalCheckins      int64               `json:"total_checkins"`
	ConnectionErrors   int64               `json:"connection_errors"`
	ConnectionTimeouts int64               `json:"connection_timeouts"`
	OverflowCheckouts  int64               `json:"overflow_checkouts"`
	QueryCount         int64               `json:"query_count"`
	WaitTime           metrics.Percentiles `json:"wait_time"`
	UsageTime          metrics.Percentiles `json:"usage_time"`
	QueryTime          metrics.Percentiles `json:"query_time"`
}

// Collector accumulates one tenant's pool metrics. Counters are guarded by
// a single mutex; the rolling windows are bounded ring buffers.
type Collector struct {
	mu       sync.Mutex
	tenant   string
	poolSize int

	inUse     int
	peak      int
	checkouts int64
	checkins  int64
	errs      int64
	timeouts  int64
	overflow  int64
	queries   int64

	wait  *metrics.RollingWindow
	usage *metrics.RollingWindow
	query *metrics.RollingWindow
}

// NewCollector creates a collector whose windows hold window samples each
func NewCollector(tenant string, poolSize, window int) *Collector {
	return &Collector{
		tenant:   tenant,
		poolSize: poolSize,
		wait:     metrics.NewRollingWindow(window),
		usage:    metrics.NewRollingWindow(window),
		query:    metrics.NewRollingWindow(window),
	}
}

// Checkout records a physical connection handed out after waiting wait
func (c *Collector) Checkout(wait time.Duration) {
	c.mu.Lock()
	c.checkouts++
	c.inUse++
	if c.inUse > c.peak {
		c.peak = c.inUse
	}
	if c.inUse > c.poolSize {
		c.overflow++
	}
	inUse, peak := c.inUse, c.peak
	c.mu.Unlock()

	c.wait.Record(wait)
	metrics.PoolEvents.WithLabelValues(c.tenant, "checkout").Inc()
	metrics.PoolWait.WithLabelValues(c.tenant).Observe(wait.Seconds())
	metrics.PoolConnectionsInUse.WithLabelValues(c.tenant).Set(float64(inUse))
	metrics.PoolPeakConnections.WithLabelValues(c.tenant).Set(float64(peak))
}

// Checkin records a connection returned to the pool after being held for used
func (c *Collector) Checkin(used time.Duration) {
	c.mu.Lock()
	c.checkins++
	if c.inUse > 0 {
		c.inUse--
	}
	inUse := c.inUse
	c.mu.Unlock()

	c.usage.Record(used)
	metrics.PoolEvents.WithLabelValues(c.tenant, "checkin").Inc()
	metrics.PoolConnectionsInUse.WithLabelValues(c.tenant).Set(float64(inUse))
}

// Error records a failed checkout
func (c *Collector) Error() {
	c.mu.Lock()
	c.errs++
	c.mu.Unlock()
	metrics.PoolEvents.WithLabelValues(c.tenant, "error").Inc()
}

// Timeout records a checkout that gave up waiting
func (c *Collector) Timeout() {
	c.mu.Lock()
	c.timeouts++
	c.mu.Unlock()
	metrics.PoolEvents.WithLabelValues(c.tenant, "timeout").Inc()
}

// Query records one statement execution
func (c *Collector) Query(d time.Duration) {
	c.mu.Lock()
	c.queries++
	c.mu.Unlock()

	c.query.Record(d)
	metrics.PoolEvents.WithLabelValues(c.tenant, "query").Inc()
}

// InUse returns the number of connections currently checked out
func (c *Collector) InUse() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inUse
}

// Reset zeroes every counter and window. Connections that are checked out
// stay counted as in use so later checkins balance.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.peak = c.inUse
	peak := c.peak
	c.checkouts, c.checkins = 0, 0
	c.errs, c.timeouts, c.overflow, c.queries = 0, 0, 0, 0
	c.mu.Unlock()

	c.wait.Reset()
	c.usage.Reset()
	c.query.Reset()
	metrics.PoolPeakConnections.WithLabelValues(c.tenant).Set(float64(peak))
}

// Snapshot returns the current metrics
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		Tenant:             c.tenant,
		ConnectionsInUse:   c.inUse,
		PeakConnections:    c.peak,
		TotalCheckouts:     c.checkouts,
		TotalCheckins:      c.checkins,
		ConnectionErrors:   c.errs,
		ConnectionTimeouts: c.timeouts,
		OverflowCheckouts:  c.overflow,
		QueryCount:         c.queries,
	}
	c.mu.Unlock()

	s.WaitTime = c.wait.Percentiles()
	s.UsageTime = c.usage.Percentiles()
	s.QueryTime = c.query.Percentiles()
	return s
}

// aggregate sums the counters of every collector and summarizes their
// pooled window samples
func aggregate(collectors []*Collector) Snapshot {
	total := Snapshot{Tenant: "*"}
	var wait, usage, query []time.Duration
	for _, c := range collectors {
		s := c.Snapshot()
		total.ConnectionsInUse += s.ConnectionsInUse
		total.PeakConnections += s.PeakConnections
		total.TotalCheckouts += s.TotalCheckouts
		total.TotalCheckins += s.TotalCheckins
		total.ConnectionErrors += s.ConnectionErrors
		total.ConnectionTimeouts += s.ConnectionTimeouts
		total.OverflowCheckouts += s.OverflowCheckouts
		total.QueryCount += s.QueryCount

		wait = append(wait, c.wait.Snapshot()...)
		usage = append(usage, c.usage.Snapshot()...)
		query = append(query, c.query.Snapshot()...)
	}
	total.WaitTime = metrics.Summarize(wait)
	total.UsageTime = metrics.Summarize(usage)
	total.QueryTime = metrics.Summarize(query)
	return total
}
