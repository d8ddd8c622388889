package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReusesMetrics(t *testing.T) {
	r := NewRegistry("smartim")
	c1 := r.Counter("x_total", "x")
	c2 := r.Counter("x_total", "other help")
	assert.Same(t, c1, c2)

	g1 := r.Gauge("g", "g")
	assert.Same(t, g1, r.Gauge("g", ""))

	h1 := r.Histogram("h", "h", nil)
	assert.Same(t, h1, r.Histogram("h", "", []float64{1}))
}

func TestHistogramBuckets(t *testing.T) {
	h := newHistogram("h", "", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.1)
	h.Observe(0.5)
	h.Observe(5)

	assert.Equal(t, []float64{0.1, 1}, h.buckets)
	assert.Equal(t, []uint64{2, 1, 1}, h.counts)
	assert.Equal(t, uint64(4), h.Count())
	assert.InDelta(t, 1.4125, h.Mean(), 1e-9)
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry("smartim")
	r.Counter("b_total", "b help").Add(3)
	r.Counter("a_total", "a help").Inc()
	r.Gauge("editors", "editors").Set(2)
	r.Histogram("lat", "latency", []float64{0.1}).Observe(0.05)

	var buf bytes.Buffer
	require.NoError(t, r.WritePrometheus(&buf))
	out := buf.String()

	assert.Contains(t, out, "# TYPE smartim_a_total counter\nsmartim_a_total 1\n")
	assert.Contains(t, out, "smartim_b_total 3\n")
	assert.Contains(t, out, "# TYPE smartim_editors gauge\nsmartim_editors 2\n")
	assert.Contains(t, out, `smartim_lat_bucket{le="0.1"} 1`)
	assert.Contains(t, out, `smartim_lat_bucket{le="+Inf"} 1`)
	assert.Less(t, strings.Index(out, "smartim_a_total"), strings.Index(out, "smartim_b_total"))
}

func TestSwitchMetricsRecordPath(t *testing.T) {
	m := NewSwitchMetrics(nil)

	m.RecordPath("keep", 0)
	m.RecordPath("cache", time.Microsecond)
	m.RecordPath("primary", time.Millisecond)
	m.RecordPath("primary", time.Millisecond)
	m.RecordPath("fallback", 50*time.Millisecond)
	m.RecordPath("failed", time.Second)

	snap := m.Snapshot()
	assert.Equal(t, uint64(6), snap["cycles"])
	assert.Equal(t, uint64(1), snap["keep"])
	assert.Equal(t, uint64(1), snap["cache_hits"])
	assert.Equal(t, uint64(2), snap["primary"])
	assert.Equal(t, uint64(1), snap["fallback"])
	assert.Equal(t, uint64(1), snap["failures"])

	// Keep cycles never reach the switcher and are not timed.
	assert.Equal(t, uint64(5), m.SwitchDuration.Count())

	reg := m.Registry().Snapshot()
	assert.Equal(t, float64(6), reg["smartim_cycles_total"])
}
