package eventstore

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/omni-platform/cladc/pkg/models"
)

// Pattern is a detected cluster of similar events.
type Pattern struct {
	Key            string             `json:"key"` // "angel|domain|success"
	Angel          string             `json:"angel"`
	Domain         string             `json:"domain"`
	Success        bool               `json:"success"`
	Count          int                `json:"count"`
	Strength       float64            `json:"strength"` // count / total events
	Classification models.InsightType `json:"classification"`
	EventIDs       []string           `json:"event_ids"`
}

// PatternAnalysis clusters events by (angel, domain, success), keeping
// clusters with more than one member, sorted by strength. Each pattern is
// classified by how much of its activity falls within the last hour:
// emerging at 70% or more, stable at 30% or more, declining below that.
// One insight per pattern is recorded, referencing the member events.
func (s *Store) PatternAnalysis() []Pattern {
	now := s.now()
	lastHour := now.Add(-time.Hour)

	type cluster struct {
		angel, domain string
		success       bool
		ids           []string
		recent        int
	}
	clusters := make(map[string]*cluster)

	s.mu.RLock()
	total := len(s.events)
	for _, e := range s.events {
		if !e.HasOutcome() {
			continue
		}
		key := fmt.Sprintf("%s|%s|%t", e.Angel, e.Domain, e.Succeeded())
		c := clusters[key]
		if c == nil {
			c = &cluster{angel: e.Angel, domain: e.Domain, success: e.Succeeded()}
			clusters[key] = c
		}
		c.ids = append(c.ids, e.ID)
		if !e.Timestamp.Before(lastHour) {
			c.recent++
		}
	}
	s.mu.RUnlock()

	patterns := make([]Pattern, 0, len(clusters))
	for key, c := range clusters {
		if len(c.ids) <= 1 {
			continue
		}
		recentShare := float64(c.recent) / float64(len(c.ids))
		classification := models.InsightDecliningPattern
		switch {
		case recentShare >= 0.7:
			classification = models.InsightEmergingPattern
		case recentShare >= 0.3:
			classification = models.InsightStablePattern
		}
		patterns = append(patterns, Pattern{
			Key:            key,
			Angel:          c.angel,
			Domain:         c.domain,
			Success:        c.success,
			Count:          len(c.ids),
			Strength:       float64(len(c.ids)) / float64(total),
			Classification: classification,
			EventIDs:       c.ids,
		})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Strength != patterns[j].Strength {
			return patterns[i].Strength > patterns[j].Strength
		}
		return patterns[i].Key < patterns[j].Key
	})

	s.recordInsights(patterns, now)
	return patterns
}

func (s *Store) recordInsights(patterns []Pattern, now time.Time) {
	if len(patterns) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range patterns {
		s.insights = append(s.insights, models.AngelInsight{
			ID:           uuid.New().String(),
			Type:         p.Classification,
			PatternKey:   p.Key,
			Significance: p.Strength,
			EventIDs:     append([]string(nil), p.EventIDs...),
			Timestamp:    now,
		})
	}
	if len(s.insights) > s.maxInsights {
		s.insights = s.insights[len(s.insights)-s.maxInsights:]
	}
}
