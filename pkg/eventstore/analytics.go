package eventstore

import "time"

// Period is a named analytics window.
type Period string

// Supported analytics periods.
const (
	Period1h  Period = "1h"
	Period6h  Period = "6h"
	Period24h Period = "24h"
	Period7d  Period = "7d"
)

// Trend direction values.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// periodDuration maps a named period to its window; unknown periods fall
// back to 24h.
func periodDuration(p Period) time.Duration {
	switch p {
	case Period1h:
		return time.Hour
	case Period6h:
		return 6 * time.Hour
	case Period7d:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// AngelPerformance is per-producer activity within an analytics window.
type AngelPerformance struct {
	Count             int     `json:"count"`
	SuccessRate       float64 `json:"success_rate"` // percentage [0,100]
	AvgProcessingTime float64 `json:"avg_processing_time"`
}

// AnalyticsSnapshot is one period's aggregate view of the event stream.
type AnalyticsSnapshot struct {
	Period             Period                      `json:"period"`
	TotalEvents        int                         `json:"total_events"`
	DomainDistribution map[string]int              `json:"domain_distribution"`
	AngelPerformance   map[string]AngelPerformance `json:"angel_performance"`
	HourlyHistogram    [24]int                     `json:"hourly_histogram"`
	DailyHistogram     [7]int                      `json:"daily_histogram"` // index 0 = Sunday
	Trend              string                      `json:"trend"`
	GeneratedAt        time.Time                   `json:"generated_at"`
}

type angelAccum struct {
	count     int
	successes int
	outcomes  int
	totalTime float64
	timed     int
}

// AnalyticsSnapshot computes the aggregate view for a period. The trend
// compares the most recent hour's event rate against the period's
// per-hour average.
func (s *Store) AnalyticsSnapshot(period Period) AnalyticsSnapshot {
	now := s.now()
	since := now.Add(-periodDuration(period))
	lastHour := now.Add(-time.Hour)

	snap := AnalyticsSnapshot{
		Period:             period,
		DomainDistribution: make(map[string]int),
		AngelPerformance:   make(map[string]AngelPerformance),
		GeneratedAt:        now,
	}
	angels := make(map[string]*angelAccum)
	var recentHourCount int

	s.mu.RLock()
	for _, e := range s.events {
		if e.Timestamp.Before(since) {
			continue
		}
		snap.TotalEvents++
		snap.DomainDistribution[e.Domain]++
		snap.HourlyHistogram[e.Timestamp.Hour()]++
		snap.DailyHistogram[int(e.Timestamp.Weekday())]++
		if !e.Timestamp.Before(lastHour) {
			recentHourCount++
		}

		acc := angels[e.Angel]
		if acc == nil {
			acc = &angelAccum{}
			angels[e.Angel] = acc
		}
		acc.count++
		if e.HasOutcome() {
			acc.outcomes++
			if e.Succeeded() {
				acc.successes++
			}
		}
		if pt, ok := e.Metrics[MetricProcessingTime]; ok {
			acc.totalTime += pt
			acc.timed++
		}
	}
	s.mu.RUnlock()

	for name, acc := range angels {
		perf := AngelPerformance{Count: acc.count}
		if acc.outcomes > 0 {
			perf.SuccessRate = float64(acc.successes) / float64(acc.outcomes) * 100
		}
		if acc.timed > 0 {
			perf.AvgProcessingTime = acc.totalTime / float64(acc.timed)
		}
		snap.AngelPerformance[name] = perf
	}

	snap.Trend = trendOf(recentHourCount, snap.TotalEvents, periodDuration(period))
	return snap
}

// trendOf compares the last hour's count to the period's hourly average.
// A 20% band around the average counts as stable.
func trendOf(recentHour, total int, window time.Duration) string {
	hours := window.Hours()
	if hours < 1 || total == 0 {
		return TrendStable
	}
	avgPerHour := float64(total) / hours
	switch {
	case float64(recentHour) > avgPerHour*1.2:
		return TrendIncreasing
	case float64(recentHour) < avgPerHour*0.8:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
