// Package eventstore is the append-only store of angel learning events
// with derived rollups: daily summaries, period analytics, and pattern
// detection. Appends are serialised; reads run concurrently against a
// consistent snapshot of the slices.
package eventstore

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omni-platform/cladc/pkg/models"
	"github.com/omni-platform/cladc/pkg/persistence"
)

// MetricProcessingTime is the conventional per-event latency metric key.
const MetricProcessingTime = "processingTime"

// snapshotEvery is the append cadence for disk snapshots.
const snapshotEvery = 10

// Store holds events and derived insights in memory, bounded FIFO.
type Store struct {
	maxEvents   int
	maxInsights int

	mu          sync.RWMutex
	events      []models.LearningEvent
	insights    []models.AngelInsight
	appendCount int

	snap *persistence.Store
	now  func() time.Time
}

// NewStore creates an event store. snap may be nil to disable disk
// snapshots (tests).
func NewStore(maxEvents, maxInsights int, snap *persistence.Store) *Store {
	return &Store{
		maxEvents:   maxEvents,
		maxInsights: maxInsights,
		snap:        snap,
		now:         time.Now,
	}
}

// Append stores one event, assigning an id and timestamp when missing.
// Oldest events are evicted once capacity is reached. Every tenth append
// also refreshes the disk snapshot.
func (s *Store) Append(event models.LearningEvent) models.LearningEvent {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	s.mu.Lock()
	s.events = append(s.events, event)
	if len(s.events) > s.maxEvents {
		s.events = s.events[len(s.events)-s.maxEvents:]
	}
	s.appendCount++
	shouldSnapshot := s.appendCount%snapshotEvery == 0
	s.mu.Unlock()

	if shouldSnapshot && s.snap != nil {
		if err := s.persist(); err != nil {
			slog.Warn("Event store snapshot failed", "error", err)
		}
	}
	return event
}

// Query returns events newest-first, filtered.
func (s *Store) Query(filters models.EventFilters) []models.LearningEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.LearningEvent, 0)
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if filters.Angel != "" && e.Angel != filters.Angel {
			continue
		}
		if filters.Domain != "" && e.Domain != filters.Domain {
			continue
		}
		if filters.Since != nil && e.Timestamp.Before(*filters.Since) {
			continue
		}
		result = append(result, e)
		if filters.Limit > 0 && len(result) >= filters.Limit {
			break
		}
	}
	return result
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Insights returns stored insights, newest-first.
func (s *Store) Insights() []models.AngelInsight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AngelInsight, len(s.insights))
	for i, ins := range s.insights {
		out[len(s.insights)-1-i] = ins
	}
	return out
}

// DailySummary aggregates the last 24 hours of matching events: counts,
// success rate (percentage over events with an explicit outcome), average
// processing time, top domain/angel lists, and up to 10 recent insights.
func (s *Store) DailySummary(filters models.EventFilters) models.DailySummary {
	since := s.now().Add(-24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := models.DailySummary{GeneratedAt: s.now()}
	domains := make(map[string]int)
	angels := make(map[string]int)
	var successes, outcomes int
	var totalTime float64
	var timed int

	for _, e := range s.events {
		if e.Timestamp.Before(since) {
			continue
		}
		if filters.Angel != "" && e.Angel != filters.Angel {
			continue
		}
		if filters.Domain != "" && e.Domain != filters.Domain {
			continue
		}
		summary.Count++
		domains[e.Domain]++
		angels[e.Angel]++
		if e.HasOutcome() {
			outcomes++
			if e.Succeeded() {
				successes++
			}
		}
		if pt, ok := e.Metrics[MetricProcessingTime]; ok {
			totalTime += pt
			timed++
		}
	}

	if outcomes > 0 {
		summary.SuccessRate = float64(successes) / float64(outcomes) * 100
	}
	if timed > 0 {
		summary.AvgProcessingTime = totalTime / float64(timed)
	}
	summary.TopDomains = topCounts(domains, 5)
	summary.TopAngels = topCounts(angels, 5)

	for i := len(s.insights) - 1; i >= 0 && len(summary.Insights) < 10; i-- {
		summary.Insights = append(summary.Insights, s.insights[i])
	}
	return summary
}

// Cleanup drops events older than retention. Returns the number dropped.
func (s *Store) Cleanup(retention time.Duration) int {
	cutoff := s.now().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Events are appended in arrival order; find the first survivor.
	idx := 0
	for idx < len(s.events) && s.events[idx].Timestamp.Before(cutoff) {
		idx++
	}
	dropped := idx
	if dropped > 0 {
		s.events = append([]models.LearningEvent(nil), s.events[idx:]...)
	}
	return dropped
}

// Snapshot writes events and insights to disk.
func (s *Store) Snapshot() error {
	if s.snap == nil {
		return nil
	}
	return s.persist()
}

// Restore loads the disk snapshot, replacing in-memory state. Missing or
// corrupt files leave the store empty.
func (s *Store) Restore() {
	if s.snap == nil {
		return
	}
	var events []models.LearningEvent
	var insights []models.AngelInsight
	loadedEvents := s.snap.Load(persistence.FileEvents, &events)
	s.snap.Load(persistence.FileInsights, &insights)

	s.mu.Lock()
	if loadedEvents {
		if len(events) > s.maxEvents {
			events = events[len(events)-s.maxEvents:]
		}
		s.events = events
	}
	if len(insights) > s.maxInsights {
		insights = insights[len(insights)-s.maxInsights:]
	}
	s.insights = insights
	s.mu.Unlock()

	slog.Info("Event store restored", "events", len(events), "insights", len(insights))
}

func (s *Store) persist() error {
	s.mu.RLock()
	events := append([]models.LearningEvent(nil), s.events...)
	insights := append([]models.AngelInsight(nil), s.insights...)
	s.mu.RUnlock()

	if err := s.snap.Save(persistence.FileEvents, events); err != nil {
		return err
	}
	if err := s.snap.Save(persistence.FileInsights, insights); err != nil {
		return err
	}
	analytics := s.AnalyticsSnapshot(Period24h)
	return s.snap.Save(persistence.FileAnalytics, analytics)
}

func topCounts(counts map[string]int, n int) []models.DomainCount {
	out := make([]models.DomainCount, 0, len(counts))
	for k, c := range counts {
		if k == "" {
			continue
		}
		out = append(out, models.DomainCount{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return strings.Compare(out[i].Key, out[j].Key) < 0
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
