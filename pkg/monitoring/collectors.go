package monitoring

import (
	"runtime"
	"time"

	"github.com/omni-platform/cladc/pkg/models"
)

// System metric names produced by the runtime collector.
const (
	MetricCPUUsage     = "cpu_usage"
	MetricMemoryUsage  = "memory_usage"
	MetricHeapFraction = "heap_fraction"
	MetricUptime       = "uptime_seconds"
	MetricGoroutines   = "goroutines"

	MetricRequests    = "requests_total"
	MetricErrorRate   = "error_rate"
	MetricResponseP50 = "response_time_p50"
	MetricResponseP95 = "response_time_p95"
	MetricResponseP99 = "response_time_p99"
)

// ComponentStatus is what a registered component reports on each
// collection tick.
type ComponentStatus struct {
	Status   string             `json:"status"` // "running", "degraded", "stopped"
	Counters map[string]float64 `json:"counters,omitempty"`
}

// StatusProbe produces a component's current status.
type StatusProbe func() ComponentStatus

// systemCollector samples process-level metrics. CPU usage comes from an
// injected reader (tests and platform wiring supply it); without one the
// cpu_usage sample is skipped.
type systemCollector struct {
	startedAt time.Time
	cpuReader func() float64
}

func newSystemCollector() *systemCollector {
	return &systemCollector{startedAt: time.Now()}
}

// collect returns one tick's system samples.
func (c *systemCollector) collect(now time.Time) []models.MetricSample {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	heapFraction := 0.0
	if mem.HeapSys > 0 {
		heapFraction = float64(mem.HeapAlloc) / float64(mem.HeapSys)
	}
	memoryMB := float64(mem.Sys) / (1024 * 1024)

	samples := []models.MetricSample{
		{Name: MetricMemoryUsage, Value: memoryMB, Timestamp: now},
		{Name: MetricHeapFraction, Value: heapFraction, Timestamp: now},
		{Name: MetricUptime, Value: now.Sub(c.startedAt).Seconds(), Timestamp: now},
		{Name: MetricGoroutines, Value: float64(runtime.NumGoroutine()), Timestamp: now},
	}
	if c.cpuReader != nil {
		samples = append(samples, models.MetricSample{
			Name: MetricCPUUsage, Value: c.cpuReader(), Timestamp: now,
		})
	}
	return samples
}
