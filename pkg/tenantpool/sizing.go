package tenantpool

import (
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/ajitpratap0/relay/pkg/errors"
)

const (
	// minHeadroom is the least spare capacity added above peak concurrency
	minHeadroom = 2
	// headroomRatio is the share of peak concurrency kept spare
	headroomRatio = 0.25
	// waitPressure is the p95 checkout wait above which pools are grown
	waitPressure = 50 * time.Millisecond
	// pressureGrowth is the growth applied under wait pressure
	pressureGrowth = 1.25
	// connsPerCPU bounds pool size plus overflow relative to logical CPUs
	connsPerCPU = 8
)

// Recommendation is a suggested pool size with the factors behind it
type Recommendation struct {
	Tenant                 string   `json:"tenant"`
	CurrentPoolSize        int      `json:"current_pool_size"`
	CurrentMaxOverflow     int      `json:"current_max_overflow"`
	RecommendedPoolSize    int      `json:"recommended_pool_size"`
	RecommendedMaxOverflow int      `json:"recommended_max_overflow"`
	Factors                []string `json:"factors"`
}

// PoolSizingRecommendation derives a pool size from the tenant's observed
// peak concurrency and checkout wait pressure
func (m *Manager) PoolSizingRecommendation(tenant string) (Recommendation, error) {
	snap, ok := m.Metrics(tenant)
	if !ok {
		return Recommendation{}, errors.NotFound("no engine for tenant %q", tenant)
	}
	return recommend(snap, m.cfg.PoolSize, m.cfg.MaxOverflow, m.cfg.MinRecommendedSize, logicalCPUs()), nil
}

// logicalCPUs returns the host's logical CPU count, or 0 when unknown
func logicalCPUs() int {
	cpus, err := cpu.Counts(true)
	if err != nil || cpus < 0 {
		return 0
	}
	return cpus
}

// recommend sizes a pool from snap. When cpus is known the overflow is
// trimmed so that size plus overflow stays within connsPerCPU per CPU; the
// base size is never cut below observed demand.
func recommend(snap Snapshot, poolSize, maxOverflow, floor, cpus int) Recommendation {
	rec := Recommendation{
		Tenant:             snap.Tenant,
		CurrentPoolSize:    poolSize,
		CurrentMaxOverflow: maxOverflow,
	}

	peak := snap.PeakConnections
	headroom := max(minHeadroom, int(math.Ceil(float64(peak)*headroomRatio)))
	size := peak + headroom
	rec.Factors = append(rec.Factors,
		fmt.Sprintf("peak concurrency %d plus headroom %d", peak, headroom))

	if snap.TotalCheckouts == 0 {
		rec.Factors = append(rec.Factors, "no checkouts observed yet")
	}

	if p95 := snap.WaitTime.P95; p95 > waitPressure {
		size = int(math.Ceil(float64(size) * pressureGrowth))
		rec.Factors = append(rec.Factors,
			fmt.Sprintf("p95 checkout wait %s exceeds %s, grown by 25%%", p95, waitPressure))
	}

	if size < floor {
		size = floor
		rec.Factors = append(rec.Factors, fmt.Sprintf("floored at minimum pool size %d", floor))
	}

	overflow := max(minHeadroom, int(math.Ceil(float64(size)/2)))
	if snap.ConnectionTimeouts > 0 {
		extra := int(min(snap.ConnectionTimeouts, int64(size)))
		overflow += extra
		rec.Factors = append(rec.Factors,
			fmt.Sprintf("%d checkout timeouts observed, overflow raised by %d", snap.ConnectionTimeouts, extra))
	}
	if snap.OverflowCheckouts > 0 {
		rec.Factors = append(rec.Factors,
			fmt.Sprintf("%d checkouts exceeded the base pool", snap.OverflowCheckouts))
	}

	if cpus > 0 {
		ceiling := cpus * connsPerCPU
		if size+overflow > ceiling {
			trimmed := max(minHeadroom, ceiling-size)
			if trimmed < overflow {
				rec.Factors = append(rec.Factors,
					fmt.Sprintf("overflow capped at %d by %d logical CPUs", trimmed, cpus))
				overflow = trimmed
			}
		}
	}

	rec.RecommendedPoolSize = size
	rec.RecommendedMaxOverflow = overflow
	return rec
}
