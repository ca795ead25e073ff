package monitoring

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/models"
)

// EscalationRule maps an alert severity to a responder tier after a
// timeout. Targets are opaque tags; delivery to humans is out of scope.
type EscalationRule struct {
	After  time.Duration
	Target string
}

// alertManager owns the alert map. All state updates hold the coarse
// lock, linearising alerts per monitor.
type alertManager struct {
	mu     sync.Mutex
	alerts map[string]*models.Alert // id → alert
	// belowWarning counts consecutive clean observations per monitor,
	// driving the two-tick resolve rule.
	belowWarning map[string]int

	escalation map[models.AlertSeverity]EscalationRule
	retention  time.Duration
	now        func() time.Time

	onRaised func(alert models.Alert)
}

func newAlertManager(escalation map[models.AlertSeverity]EscalationRule, retention time.Duration) *alertManager {
	return &alertManager{
		alerts:       make(map[string]*models.Alert),
		belowWarning: make(map[string]int),
		escalation:   escalation,
		retention:    retention,
		now:          time.Now,
	}
}

// observe evaluates one monitor measurement. A breach raises or
// de-duplicates an alert; critical takes precedence over warning when
// both thresholds are crossed. Two consecutive observations below the
// warning threshold resolve the monitor's active alerts.
func (m *alertManager) observe(monitor models.Monitor, value float64) *models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case value > monitor.Thresholds.Critical:
		m.belowWarning[monitor.Name] = 0
		return m.raiseLocked(monitor, value, monitor.Thresholds.Critical, "critical", models.SeverityCritical)
	case value > monitor.Thresholds.Warning:
		m.belowWarning[monitor.Name] = 0
		return m.raiseLocked(monitor, value, monitor.Thresholds.Warning, "warning", models.SeverityMedium)
	default:
		m.belowWarning[monitor.Name]++
		if m.belowWarning[monitor.Name] >= 2 {
			m.resolveMonitorLocked(monitor.Name)
		}
		return nil
	}
}

// raise records an externally produced alert (component health checks,
// drift callbacks). De-duplicated like monitor breaches.
func (m *alertManager) raise(monitor, metric string, value, threshold float64, severity models.AlertSeverity, message string) *models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	alertType := "warning"
	if severity == models.SeverityCritical {
		alertType = "critical"
	}
	return m.raiseLockedWith(monitor, metric, value, threshold, alertType, severity, message)
}

func (m *alertManager) raiseLocked(monitor models.Monitor, value, threshold float64, alertType string, severity models.AlertSeverity) *models.Alert {
	message := fmt.Sprintf("%s %s at %.2f exceeds %s threshold %.2f",
		monitor.Name, monitor.Metric, value, alertType, threshold)
	return m.raiseLockedWith(monitor.Name, monitor.Metric, value, threshold, alertType, severity, message)
}

func (m *alertManager) raiseLockedWith(monitor, metric string, value, threshold float64, alertType string, severity models.AlertSeverity, message string) *models.Alert {
	// De-duplicate on (monitor, metric): bump the count, keep the oldest
	// timestamp, refresh the measured value.
	for _, a := range m.alerts {
		if a.Monitor == monitor && a.Metric == metric && a.Active() {
			a.Count++
			a.Value = value
			a.Type = alertType
			a.Severity = severity
			return a
		}
	}

	alert := &models.Alert{
		ID:        uuid.New().String(),
		Monitor:   monitor,
		Severity:  severity,
		Type:      alertType,
		Metric:    metric,
		Value:     value,
		Threshold: threshold,
		Message:   message,
		Timestamp: m.now(),
		Count:     1,
	}
	m.alerts[alert.ID] = alert
	slog.Warn("Alert raised",
		"alert_id", alert.ID,
		"monitor", monitor,
		"severity", severity,
		"value", value,
		"threshold", threshold)
	if m.onRaised != nil {
		m.onRaised(*alert)
	}
	return alert
}

func (m *alertManager) resolveMonitorLocked(monitor string) {
	now := m.now()
	for _, a := range m.alerts {
		if a.Monitor == monitor && a.Active() {
			a.Resolved = true
			a.ResolvedAt = &now
			slog.Info("Alert resolved", "alert_id", a.ID, "monitor", monitor)
		}
	}
}

// acknowledge marks an alert acknowledged. Resolved alerts conflict.
func (m *alertManager) acknowledge(id string) (models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, errkind.New(errkind.NotFound, "monitoring", "alert %q not found", id)
	}
	if a.Resolved {
		return models.Alert{}, errkind.New(errkind.Conflict, "monitoring", "alert %q already resolved", id)
	}
	a.Acknowledged = true
	return *a, nil
}

// acknowledgeMany is the auto-recovery path: acknowledge by id, ignoring
// missing or resolved entries.
func (m *alertManager) acknowledgeMany(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if a, ok := m.alerts[id]; ok && a.Active() {
			a.Acknowledged = true
		}
	}
}

// escalationSweep marks overdue active alerts escalated per severity rule.
func (m *alertManager) escalationSweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var escalated int
	for _, a := range m.alerts {
		if !a.Active() || a.Escalated {
			continue
		}
		rule, ok := m.escalation[a.Severity]
		if !ok {
			continue
		}
		if now.Sub(a.Timestamp) > rule.After {
			a.Escalated = true
			a.EscalatedTo = rule.Target
			escalated++
			slog.Warn("Alert escalated",
				"alert_id", a.ID,
				"monitor", a.Monitor,
				"severity", a.Severity,
				"target", rule.Target,
				"age", now.Sub(a.Timestamp))
		}
	}
	return escalated
}

// purge drops resolved alerts older than retention.
func (m *alertManager) purge() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.retention)
	var purged int
	for id, a := range m.alerts {
		if a.Resolved && a.ResolvedAt != nil && a.ResolvedAt.Before(cutoff) {
			delete(m.alerts, id)
			purged++
		}
	}
	return purged
}

// list returns alerts newest-first, filtered.
func (m *alertManager) list(filters models.AlertFilters) []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		if filters.Monitor != "" && a.Monitor != filters.Monitor {
			continue
		}
		if filters.Severity != "" && a.Severity != filters.Severity {
			continue
		}
		if filters.Active != nil && a.Active() != *filters.Active {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filters.Limit > 0 && len(out) > filters.Limit {
		out = out[:filters.Limit]
	}
	return out
}

// activeSnapshot returns copies of all active alerts, used by incident
// creation for a consistent view.
func (m *alertManager) activeSnapshot() []models.Alert {
	active := true
	return m.list(models.AlertFilters{Active: &active})
}

func (m *alertManager) get(id string) (models.Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, false
	}
	return *a, true
}

func (m *alertManager) snapshotAll() map[string]models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.Alert, len(m.alerts))
	for id, a := range m.alerts {
		out[id] = *a
	}
	return out
}

func (m *alertManager) restore(alerts map[string]models.Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = make(map[string]*models.Alert, len(alerts))
	for id, a := range alerts {
		copied := a
		m.alerts[id] = &copied
	}
}
