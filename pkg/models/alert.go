package models

import "time"

// AlertSeverity orders alerts for escalation policy.
type AlertSeverity string

// Alert severity values.
const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is a threshold violation raised by a monitor. Lifecycle:
// active → (acknowledged | resolved); an active alert may additionally be
// escalated (orthogonal flag). Once resolved, no further transitions.
type Alert struct {
	ID           string        `json:"id"`
	Monitor      string        `json:"monitor"`
	Severity     AlertSeverity `json:"severity"`
	Type         string        `json:"type"` // "warning" or "critical"
	Metric       string        `json:"metric"`
	Value        float64       `json:"value"`
	Threshold    float64       `json:"threshold"`
	Message      string        `json:"message"`
	Timestamp    time.Time     `json:"timestamp"`
	Count        int           `json:"count"` // de-duplication counter
	Acknowledged bool          `json:"acknowledged"`
	Escalated    bool          `json:"escalated"`
	EscalatedTo  string        `json:"escalated_to,omitempty"`
	Resolved     bool          `json:"resolved"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
}

// Active reports whether the alert still demands attention.
func (a *Alert) Active() bool { return !a.Resolved }

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

// Incident status values: detected → investigating → (recovered | resolved).
const (
	IncidentDetected      IncidentStatus = "detected"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentRecovered     IncidentStatus = "recovered"
	IncidentResolved      IncidentStatus = "resolved"
)

// Incident is a correlated cluster of alerts managed as one unit.
type Incident struct {
	ID            string         `json:"id"`
	Severity      AlertSeverity  `json:"severity"`
	Component     string         `json:"component"`
	Status        IncidentStatus `json:"status"`
	RelatedAlerts []string       `json:"related_alerts"`
	Resolution    string         `json:"resolution,omitempty"`
	DetectedAt    time.Time      `json:"detected_at"`
	RecoveredAt   *time.Time     `json:"recovered_at,omitempty"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty"`
}

// MonitorType distinguishes system-wide from per-component monitors.
type MonitorType string

// Monitor type values.
const (
	MonitorSystem    MonitorType = "system"
	MonitorComponent MonitorType = "component"
)

// Monitor declaratively describes one measurement and its thresholds.
type Monitor struct {
	Name       string        `json:"name"`
	Type       MonitorType   `json:"type"`
	Component  string        `json:"component,omitempty"`
	Metric     string        `json:"metric"`
	Interval   time.Duration `json:"interval"`
	Thresholds Thresholds    `json:"thresholds"`
	Enabled    bool          `json:"enabled"`
}

// Thresholds holds the warning and critical trip points of a monitor.
type Thresholds struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// AlertFilters contains filtering options for listing alerts.
type AlertFilters struct {
	Monitor  string        `json:"monitor,omitempty"`
	Severity AlertSeverity `json:"severity,omitempty"`
	Active   *bool         `json:"active,omitempty"`
	Limit    int           `json:"limit,omitempty"`
}

// MetricSample is one collected measurement point.
type MetricSample struct {
	Name      string    `json:"name"`
	Component string    `json:"component,omitempty"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
