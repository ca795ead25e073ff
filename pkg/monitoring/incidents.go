package monitoring

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/models"
)

// RecoveryRunner executes a component-specific recovery procedure. The
// coordinator wires reconnects and pool restarts here; outcomes are
// deterministic typed errors, never sampled probabilities.
type RecoveryRunner interface {
	Recover(ctx context.Context, component string) error
}

// RecoveryRunnerFunc adapts a function to RecoveryRunner.
type RecoveryRunnerFunc func(ctx context.Context, component string) error

// Recover implements RecoveryRunner.
func (f RecoveryRunnerFunc) Recover(ctx context.Context, component string) error {
	return f(ctx, component)
}

// Static per-component recovery retry caps; unknown components get the
// default.
var recoveryRetryCaps = map[string]int{
	"kafka":       3,
	"amqp":        3,
	"experience":  2,
	"improvement": 2,
}

const defaultRecoveryRetries = 1

// incidentAutoResolveAfter is the minimum incident age before
// all-alerts-resolved auto-resolution.
const incidentAutoResolveAfter = 5 * time.Minute

// clusterThreshold is the active-alert count per component prefix that
// trips an incident.
const clusterThreshold = 3

// incidentManager correlates alerts into incidents and drives recovery.
type incidentManager struct {
	mu        sync.Mutex
	incidents map[string]*models.Incident
	attempts  map[string]int // incident id → recovery attempts

	alerts      *alertManager
	recovery    RecoveryRunner
	autoRecover bool
	now         func() time.Time
}

func newIncidentManager(alerts *alertManager, recovery RecoveryRunner, autoRecover bool) *incidentManager {
	return &incidentManager{
		incidents:   make(map[string]*models.Incident),
		attempts:    make(map[string]int),
		alerts:      alerts,
		recovery:    recovery,
		autoRecover: autoRecover,
		now:         time.Now,
	}
}

// componentOf derives the component prefix of an alert: the monitor name
// up to the first underscore ("kafka_lag" → "kafka").
func componentOf(alert models.Alert) string {
	if idx := strings.Index(alert.Monitor, "_"); idx > 0 {
		return alert.Monitor[:idx]
	}
	return alert.Monitor
}

// evaluate inspects a consistent snapshot of the active alert set and
// opens incidents: one per component prefix holding three or more active
// alerts, and one per critical alert not yet covered.
func (m *incidentManager) evaluate() []models.Incident {
	active := m.alerts.activeSnapshot()

	byComponent := make(map[string][]models.Alert)
	for _, a := range active {
		component := componentOf(a)
		byComponent[component] = append(byComponent[component], a)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var opened []models.Incident
	for component, alerts := range byComponent {
		hasCritical := false
		for _, a := range alerts {
			if a.Severity == models.SeverityCritical {
				hasCritical = true
				break
			}
		}
		if len(alerts) < clusterThreshold && !hasCritical {
			continue
		}
		if m.openIncidentForLocked(component) != nil {
			continue
		}

		severity := models.SeverityHigh
		if hasCritical {
			severity = models.SeverityCritical
		}
		ids := make([]string, len(alerts))
		for i, a := range alerts {
			ids[i] = a.ID
		}
		incident := &models.Incident{
			ID:            uuid.New().String(),
			Severity:      severity,
			Component:     component,
			Status:        models.IncidentDetected,
			RelatedAlerts: ids,
			DetectedAt:    m.now(),
		}
		m.incidents[incident.ID] = incident
		opened = append(opened, *incident)
		slog.Warn("Incident detected",
			"incident_id", incident.ID,
			"component", component,
			"severity", severity,
			"related_alerts", len(ids))
	}
	return opened
}

// manage advances open incidents: detected incidents move to
// investigating and get auto-recovery attempts; incidents whose related
// alerts are all resolved auto-resolve after the grace period.
func (m *incidentManager) manage(ctx context.Context) {
	m.mu.Lock()
	open := make([]*models.Incident, 0)
	for _, inc := range m.incidents {
		if inc.Status == models.IncidentDetected || inc.Status == models.IncidentInvestigating {
			open = append(open, inc)
		}
	}
	m.mu.Unlock()

	for _, inc := range open {
		m.mu.Lock()
		if inc.Status == models.IncidentDetected {
			inc.Status = models.IncidentInvestigating
		}
		m.mu.Unlock()

		if m.autoRecover && m.recovery != nil {
			m.attemptRecovery(ctx, inc)
		}
		m.maybeAutoResolve(inc)
	}
}

func (m *incidentManager) attemptRecovery(ctx context.Context, inc *models.Incident) {
	m.mu.Lock()
	if inc.Status != models.IncidentInvestigating {
		m.mu.Unlock()
		return
	}
	retryCap, ok := recoveryRetryCaps[inc.Component]
	if !ok {
		retryCap = defaultRecoveryRetries
	}
	if m.attempts[inc.ID] >= retryCap {
		m.mu.Unlock()
		return
	}
	m.attempts[inc.ID]++
	attempt := m.attempts[inc.ID]
	component := inc.Component
	related := append([]string(nil), inc.RelatedAlerts...)
	m.mu.Unlock()

	err := m.recovery.Recover(ctx, component)
	if err != nil {
		slog.Warn("Auto-recovery attempt failed",
			"incident_id", inc.ID,
			"component", component,
			"attempt", attempt,
			"error", err)
		return
	}

	// Recovery succeeded: acknowledge the related alerts and mark the
	// incident recovered.
	m.alerts.acknowledgeMany(related)
	now := m.now()
	m.mu.Lock()
	inc.Status = models.IncidentRecovered
	inc.RecoveredAt = &now
	inc.Resolution = "auto-recovery succeeded"
	m.mu.Unlock()
	slog.Info("Incident recovered",
		"incident_id", inc.ID,
		"component", component,
		"attempt", attempt)
}

// maybeAutoResolve resolves an incident whose related alerts are all
// resolved once it is older than the grace period.
func (m *incidentManager) maybeAutoResolve(inc *models.Incident) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inc.Status == models.IncidentResolved {
		return
	}
	if m.now().Sub(inc.DetectedAt) < incidentAutoResolveAfter {
		return
	}
	for _, id := range inc.RelatedAlerts {
		if a, ok := m.alerts.get(id); ok && a.Active() {
			return
		}
	}
	now := m.now()
	inc.Status = models.IncidentResolved
	inc.ResolvedAt = &now
	if inc.Resolution == "" {
		inc.Resolution = "all related alerts resolved"
	}
	slog.Info("Incident auto-resolved", "incident_id", inc.ID, "component", inc.Component)
}

// resolve manually closes an incident.
func (m *incidentManager) resolve(id, resolution string) (models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inc, ok := m.incidents[id]
	if !ok {
		return models.Incident{}, errkind.New(errkind.NotFound, "monitoring", "incident %q not found", id)
	}
	if inc.Status == models.IncidentResolved {
		return models.Incident{}, errkind.New(errkind.Conflict, "monitoring", "incident %q already resolved", id)
	}
	now := m.now()
	inc.Status = models.IncidentResolved
	inc.ResolvedAt = &now
	inc.Resolution = resolution
	return *inc, nil
}

// openIncidentForLocked returns the open incident for a component, if
// any. Caller holds m.mu.
func (m *incidentManager) openIncidentForLocked(component string) *models.Incident {
	for _, inc := range m.incidents {
		if inc.Component == component && inc.Status != models.IncidentResolved && inc.Status != models.IncidentRecovered {
			return inc
		}
	}
	return nil
}

// list returns incidents newest-first.
func (m *incidentManager) list() []models.Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		out = append(out, *inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out
}

func (m *incidentManager) snapshotAll() map[string]models.Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.Incident, len(m.incidents))
	for id, inc := range m.incidents {
		out[id] = *inc
	}
	return out
}

func (m *incidentManager) restore(incidents map[string]models.Incident) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents = make(map[string]*models.Incident, len(incidents))
	for id, inc := range incidents {
		copied := inc
		m.incidents[id] = &copied
	}
}
