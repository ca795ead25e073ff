// Package monitoring collects system, component, and application metrics,
// evaluates declarative monitors against them, and manages the alert,
// escalation, incident, and auto-recovery state machines.
package monitoring

import (
	"sort"
	"sync"
	"time"

	"github.com/omni-platform/cladc/pkg/models"
)

// Aggregation windows recomputed on every collection tick.
var aggregationWindows = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
}

// Aggregate is one metric's rollup over a window.
type Aggregate struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// metricsStore keeps a bounded FIFO of samples plus the latest value per
// metric name.
type metricsStore struct {
	mu         sync.RWMutex
	samples    []models.MetricSample
	latest     map[string]float64
	maxSamples int
}

func newMetricsStore(maxSamples int) *metricsStore {
	return &metricsStore{
		latest:     make(map[string]float64),
		maxSamples: maxSamples,
	}
}

func (m *metricsStore) record(sample models.MetricSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
	if len(m.samples) > m.maxSamples {
		m.samples = m.samples[len(m.samples)-m.maxSamples:]
	}
	m.latest[sample.Name] = sample.Value
}

func (m *metricsStore) latestValue(name string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.latest[name]
	return v, ok
}

func (m *metricsStore) recent(limit int) []models.MetricSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.samples)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.MetricSample, n)
	for i := 0; i < n; i++ {
		out[i] = m.samples[len(m.samples)-1-i]
	}
	return out
}

func (m *metricsStore) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples)
}

// aggregates computes per-metric rollups for every window, relative to now.
func (m *metricsStore) aggregates(now time.Time) map[string]map[string]Aggregate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]map[string]Aggregate, len(aggregationWindows))
	for window, d := range aggregationWindows {
		cutoff := now.Add(-d)
		agg := make(map[string]Aggregate)
		for _, s := range m.samples {
			if s.Timestamp.Before(cutoff) {
				continue
			}
			a := agg[s.Name]
			if a.Count == 0 || s.Value < a.Min {
				a.Min = s.Value
			}
			if a.Count == 0 || s.Value > a.Max {
				a.Max = s.Value
			}
			a.Avg = (a.Avg*float64(a.Count) + s.Value) / float64(a.Count+1)
			a.Count++
			agg[s.Name] = a
		}
		out[window] = agg
	}
	return out
}

func (m *metricsStore) snapshotSamples() []models.MetricSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.MetricSample(nil), m.samples...)
}

func (m *metricsStore) restoreSamples(samples []models.MetricSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(samples) > m.maxSamples {
		samples = samples[len(samples)-m.maxSamples:]
	}
	m.samples = samples
	for _, s := range samples {
		m.latest[s.Name] = s.Value
	}
}

// requestTracker accumulates application request metrics for percentile
// computation. Bounded to the most recent window of observations.
type requestTracker struct {
	mu        sync.Mutex
	durations []float64 // milliseconds
	requests  int64
	errors    int64
	windowMax int
}

func newRequestTracker(windowMax int) *requestTracker {
	return &requestTracker{windowMax: windowMax}
}

func (r *requestTracker) record(d time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++
	if failed {
		r.errors++
	}
	r.durations = append(r.durations, float64(d.Milliseconds()))
	if len(r.durations) > r.windowMax {
		r.durations = r.durations[len(r.durations)-r.windowMax:]
	}
}

// stats returns request count, error rate percentage, and latency
// percentiles in milliseconds.
func (r *requestTracker) stats() (requests int64, errorRate, p50, p95, p99 float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	requests = r.requests
	if r.requests > 0 {
		errorRate = float64(r.errors) / float64(r.requests) * 100
	}
	if len(r.durations) == 0 {
		return requests, errorRate, 0, 0, 0
	}
	sorted := append([]float64(nil), r.durations...)
	sort.Float64s(sorted)
	return requests, errorRate, percentile(sorted, 50), percentile(sorted, 95), percentile(sorted, 99)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p / 100)
	return sorted[idx]
}
