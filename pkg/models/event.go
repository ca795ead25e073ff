package models

import "time"

// LearningEvent is an immutable record of a single learning observation
// produced by an angel. Once appended to the event store it is never
// mutated; insights reference it by id.
type LearningEvent struct {
	ID        string             `json:"id"`
	Angel     string             `json:"angel"`
	Domain    string             `json:"domain"`
	Input     map[string]any     `json:"input,omitempty"`
	Output    *EventOutput       `json:"output,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// EventOutput is the opaque result payload of a learning event.
type EventOutput struct {
	Success *bool          `json:"success,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Succeeded reports whether the event explicitly recorded success.
func (e *LearningEvent) Succeeded() bool {
	return e.Output != nil && e.Output.Success != nil && *e.Output.Success
}

// HasOutcome reports whether the event carries an explicit success flag.
func (e *LearningEvent) HasOutcome() bool {
	return e.Output != nil && e.Output.Success != nil
}

// InsightType classifies a detected pattern.
type InsightType string

// Insight type values.
const (
	InsightEmergingPattern  InsightType = "emerging_pattern"
	InsightDecliningPattern InsightType = "declining_pattern"
	InsightStablePattern    InsightType = "stable_pattern"
	InsightAnomaly          InsightType = "anomaly"
)

// AngelInsight is a derived observation attached to zero or more events.
type AngelInsight struct {
	ID           string      `json:"id"`
	Type         InsightType `json:"type"`
	PatternKey   string      `json:"pattern_key"`
	Significance float64     `json:"significance"` // [0,1]
	EventIDs     []string    `json:"event_ids,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// EventFilters contains filtering options for querying learning events.
type EventFilters struct {
	Angel            string     `json:"angel,omitempty"`
	Domain           string     `json:"domain,omitempty"`
	Since            *time.Time `json:"since,omitempty"`
	Limit            int        `json:"limit,omitempty"`
	IncludeAnalytics bool       `json:"include_analytics,omitempty"`
}

// DailySummary aggregates one producer-day of learning activity.
type DailySummary struct {
	Count             int            `json:"count"`
	SuccessRate       float64        `json:"success_rate"` // percentage [0,100]
	AvgProcessingTime float64        `json:"avg_processing_time"`
	TopDomains        []DomainCount  `json:"top_domains"`
	TopAngels         []DomainCount  `json:"top_angels"`
	Insights          []AngelInsight `json:"insights,omitempty"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// DomainCount is a (key, count) pair used in top-N lists.
type DomainCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}
