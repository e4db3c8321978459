package metrics

import (
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollingWindowBounded(t *testing.T) {
	w := NewRollingWindow(3)
	for i := 1; i <= 5; i++ {
		w.Record(time.Duration(i) * time.Millisecond)
	}

	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 3, w.Cap())
	assert.Equal(t, []time.Duration{3 * time.Millisecond, 4 * time.Millisecond, 5 * time.Millisecond}, w.Snapshot())
}

func TestRollingWindowPercentiles(t *testing.T) {
	w := NewRollingWindow(100)
	assert.Equal(t, time.Duration(0), w.Percentile(50))

	for i := 100; i >= 1; i-- {
		w.Record(time.Duration(i) * time.Millisecond)
	}

	p := w.Percentiles()
	assert.Equal(t, 50*time.Millisecond, p.P50)
	assert.Equal(t, 95*time.Millisecond, p.P95)
	assert.Equal(t, 99*time.Millisecond, p.P99)
	assert.Equal(t, time.Millisecond, w.Percentile(0))
	assert.Equal(t, 100*time.Millisecond, w.Percentile(100))
}

func TestRollingWindowReset(t *testing.T) {
	w := NewRollingWindow(2)
	w.Record(time.Second)
	w.Record(time.Second)
	w.Record(time.Second)
	w.Reset()

	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Snapshot())
}

func TestRollingWindowConcurrent(t *testing.T) {
	w := NewRollingWindow(64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				w.Record(time.Microsecond)
				_ = w.Percentiles()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 64, w.Len())
}

func TestHandlerExposesRelayMetrics(t *testing.T) {
	RunsTotal.WithLabelValues("file", "success").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(RunsTotal.WithLabelValues("file", "success")), 1.0)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "relay_integration_runs_total")
}
