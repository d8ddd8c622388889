package metrics

import (
	"time"
)

// SwitchMetrics holds the counters reported by `smartimctl status`.
type SwitchMetrics struct {
	registry *Registry
	started  time.Time

	Cycles           *Counter
	KeepHits         *Counter
	CacheHits        *Counter
	PrimarySuccesses *Counter
	FallbackSuccess  *Counter
	Failures         *Counter

	TrackedEditors *Gauge
	UptimeSeconds  *Gauge

	SwitchDuration *Histogram
}

// NewSwitchMetrics registers the switch metrics on registry. A nil registry
// gets a fresh "smartim" registry.
func NewSwitchMetrics(registry *Registry) *SwitchMetrics {
	if registry == nil {
		registry = NewRegistry("smartim")
	}
	return &SwitchMetrics{
		registry: registry,
		started:  time.Now(),

		Cycles:           registry.Counter("cycles_total", "Classification and switch cycles run"),
		KeepHits:         registry.Counter("keep_total", "Cycles that resolved to keep-current"),
		CacheHits:        registry.Counter("cache_hits_total", "Switches short-circuited by the cache"),
		PrimarySuccesses: registry.Counter("primary_switches_total", "Switches confirmed by the registry"),
		FallbackSuccess:  registry.Counter("fallback_switches_total", "Switches satisfied by a fallback script"),
		Failures:         registry.Counter("failures_total", "Switches that failed on every path"),

		TrackedEditors: registry.Gauge("tracked_editors", "Editors with a live debounce gate"),
		UptimeSeconds:  registry.Gauge("uptime_seconds", "Seconds since the daemon started"),

		SwitchDuration: registry.Histogram("switch_duration_seconds", "Latency of switch attempts", LatencyBuckets),
	}
}

// Registry returns the underlying registry.
func (m *SwitchMetrics) Registry() *Registry {
	return m.registry
}

// RecordPath counts one cycle by the path that satisfied it. Paths are the
// switcher's: keep, cache, primary, fallback, failed.
func (m *SwitchMetrics) RecordPath(path string, d time.Duration) {
	m.Cycles.Inc()
	switch path {
	case "keep":
		m.KeepHits.Inc()
		return
	case "cache":
		m.CacheHits.Inc()
	case "primary":
		m.PrimarySuccesses.Inc()
	case "fallback":
		m.FallbackSuccess.Inc()
	default:
		m.Failures.Inc()
	}
	m.SwitchDuration.ObserveDuration(d)
}

// Snapshot returns the headline counters with short names.
func (m *SwitchMetrics) Snapshot() map[string]uint64 {
	m.UptimeSeconds.Set(int64(time.Since(m.started).Seconds()))
	return map[string]uint64{
		"cycles":         m.Cycles.Value(),
		"keep":           m.KeepHits.Value(),
		"cache_hits":     m.CacheHits.Value(),
		"primary":        m.PrimarySuccesses.Value(),
		"fallback":       m.FallbackSuccess.Value(),
		"failures":       m.Failures.Value(),
		"tracked":        uint64(max(m.TrackedEditors.Value(), 0)),
		"uptime_seconds": uint64(m.UptimeSeconds.Value()),
	}
}
