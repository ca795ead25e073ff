package monitoring

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/omni-platform/cladc/pkg/models"
	"github.com/omni-platform/cladc/pkg/persistence"
)

// Config carries the monitoring tunables.
type Config struct {
	Monitors       []models.Monitor
	Escalation     map[models.AlertSeverity]EscalationRule
	AlertRetention time.Duration
	MaxSamples     int
	AutoRecovery   bool
	RequestWindow  int // bounded latency observations for percentiles
}

// DefaultMonitors builds the standard monitor set from threshold values.
func DefaultMonitors(cpuCritical, memoryCritical, errorRateCritical, responseTimeCriticalMS float64) []models.Monitor {
	return []models.Monitor{
		{
			Name: "system_cpu", Type: models.MonitorSystem, Metric: MetricCPUUsage,
			Interval: time.Minute, Enabled: true,
			Thresholds: models.Thresholds{Warning: cpuCritical * 0.875, Critical: cpuCritical},
		},
		{
			Name: "system_memory", Type: models.MonitorSystem, Metric: MetricMemoryUsage,
			Interval: time.Minute, Enabled: true,
			Thresholds: models.Thresholds{Warning: memoryCritical * 0.875, Critical: memoryCritical},
		},
		{
			Name: "api_error_rate", Type: models.MonitorComponent, Component: "api", Metric: MetricErrorRate,
			Interval: time.Minute, Enabled: true,
			Thresholds: models.Thresholds{Warning: errorRateCritical * 0.6, Critical: errorRateCritical},
		},
		{
			Name: "api_response_time", Type: models.MonitorComponent, Component: "api", Metric: MetricResponseP95,
			Interval: time.Minute, Enabled: true,
			Thresholds: models.Thresholds{Warning: responseTimeCriticalMS * 0.75, Critical: responseTimeCriticalMS},
		},
	}
}

// Service is the monitoring subsystem facade consumed by the coordinator
// and the Control API.
type Service struct {
	cfg Config

	metrics   *metricsStore
	requests  *requestTracker
	system    *systemCollector
	alerts    *alertManager
	incidents *incidentManager

	probesMu sync.RWMutex
	probes   map[string]StatusProbe

	prom *promMetrics
	snap *persistence.Store
	now  func() time.Time
}

// NewService assembles the monitoring subsystem. recovery, snap, and the
// Prometheus registerer may be nil.
func NewService(cfg Config, recovery RecoveryRunner, snap *persistence.Store) *Service {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 10000
	}
	if cfg.RequestWindow <= 0 {
		cfg.RequestWindow = 2048
	}
	alerts := newAlertManager(cfg.Escalation, cfg.AlertRetention)
	s := &Service{
		cfg:       cfg,
		metrics:   newMetricsStore(cfg.MaxSamples),
		requests:  newRequestTracker(cfg.RequestWindow),
		system:    newSystemCollector(),
		alerts:    alerts,
		incidents: newIncidentManager(alerts, recovery, cfg.AutoRecovery),
		probes:    make(map[string]StatusProbe),
		snap:      snap,
		now:       time.Now,
	}
	return s
}

// SetCPUReader injects the platform CPU usage reader.
func (s *Service) SetCPUReader(reader func() float64) { s.system.cpuReader = reader }

// SetAlertCallback registers a hook invoked on every newly raised alert.
func (s *Service) SetAlertCallback(fn func(alert models.Alert)) { s.alerts.onRaised = fn }

// RegisterComponent adds a status probe polled on every collection tick.
func (s *Service) RegisterComponent(name string, probe StatusProbe) {
	s.probesMu.Lock()
	defer s.probesMu.Unlock()
	s.probes[name] = probe
}

// RecordRequest feeds one API request into the application metrics.
func (s *Service) RecordRequest(d time.Duration, failed bool) {
	s.requests.record(d, failed)
	if s.prom != nil {
		s.prom.observeRequest(d, failed)
	}
}

// CollectTick gathers system, component, and application samples, then
// evaluates every enabled monitor against its metric's latest value.
// Runs on the monitoring interval.
func (s *Service) CollectTick(ctx context.Context) {
	now := s.now()

	for _, sample := range s.system.collect(now) {
		s.metrics.record(sample)
	}

	s.probesMu.RLock()
	probes := make(map[string]StatusProbe, len(s.probes))
	for name, probe := range s.probes {
		probes[name] = probe
	}
	s.probesMu.RUnlock()
	for name, probe := range probes {
		status := probe()
		statusValue := 1.0
		if status.Status != "running" {
			statusValue = 0.0
		}
		s.metrics.record(models.MetricSample{
			Name: name + "_status", Component: name, Value: statusValue, Timestamp: now,
		})
		for counter, value := range status.Counters {
			s.metrics.record(models.MetricSample{
				Name: name + "_" + counter, Component: name, Value: value, Timestamp: now,
			})
		}
	}

	requests, errorRate, p50, p95, p99 := s.requests.stats()
	s.metrics.record(models.MetricSample{Name: MetricRequests, Value: float64(requests), Timestamp: now})
	s.metrics.record(models.MetricSample{Name: MetricErrorRate, Value: errorRate, Timestamp: now})
	s.metrics.record(models.MetricSample{Name: MetricResponseP50, Value: p50, Timestamp: now})
	s.metrics.record(models.MetricSample{Name: MetricResponseP95, Value: p95, Timestamp: now})
	s.metrics.record(models.MetricSample{Name: MetricResponseP99, Value: p99, Timestamp: now})

	for _, monitor := range s.cfg.Monitors {
		if !monitor.Enabled {
			continue
		}
		value, ok := s.metrics.latestValue(monitor.Metric)
		if !ok {
			continue
		}
		s.alerts.observe(monitor, value)
	}

	if s.prom != nil {
		s.prom.setGauges(s)
	}
}

// ManagementTick runs escalation, incident correlation, auto-recovery,
// auto-resolution, and retention purging. Runs on the health-check
// interval.
func (s *Service) ManagementTick(ctx context.Context) {
	s.alerts.escalationSweep()
	s.incidents.evaluate()
	s.incidents.manage(ctx)
	if purged := s.alerts.purge(); purged > 0 {
		slog.Debug("Purged resolved alerts past retention", "count", purged)
	}
}

// RaiseAlert records an externally detected condition (drift, component
// health) as an alert.
func (s *Service) RaiseAlert(monitor, metric string, value, threshold float64, severity models.AlertSeverity, message string) models.Alert {
	return *s.alerts.raise(monitor, metric, value, threshold, severity, message)
}

// Alerts lists alerts, newest-first.
func (s *Service) Alerts(filters models.AlertFilters) []models.Alert { return s.alerts.list(filters) }

// AcknowledgeAlert marks one alert acknowledged.
func (s *Service) AcknowledgeAlert(id string) (models.Alert, error) { return s.alerts.acknowledge(id) }

// Incidents lists incidents, newest-first.
func (s *Service) Incidents() []models.Incident { return s.incidents.list() }

// ResolveIncident manually closes an incident.
func (s *Service) ResolveIncident(id, resolution string) (models.Incident, error) {
	return s.incidents.resolve(id, resolution)
}

// Samples returns recent metric samples, newest-first.
func (s *Service) Samples(limit int) []models.MetricSample { return s.metrics.recent(limit) }

// Aggregates returns per-window metric rollups.
func (s *Service) Aggregates() map[string]map[string]Aggregate {
	return s.metrics.aggregates(s.now())
}

// monitoringSnapshot is the on-disk shape of the monitoring state.
type monitoringSnapshot struct {
	Samples []models.MetricSample `json:"samples"`
}

// Snapshot writes alerts, incidents, and metric samples to disk.
func (s *Service) Snapshot() error {
	if s.snap == nil {
		return nil
	}
	if err := s.snap.Save(persistence.FileAlerts, s.alerts.snapshotAll()); err != nil {
		return err
	}
	if err := s.snap.Save(persistence.FileIncidents, s.incidents.snapshotAll()); err != nil {
		return err
	}
	return s.snap.Save(persistence.FileMetrics, monitoringSnapshot{Samples: s.metrics.snapshotSamples()})
}

// Restore loads the monitoring snapshot.
func (s *Service) Restore() {
	if s.snap == nil {
		return
	}
	var alerts map[string]models.Alert
	if s.snap.Load(persistence.FileAlerts, &alerts) {
		s.alerts.restore(alerts)
	}
	var incidents map[string]models.Incident
	if s.snap.Load(persistence.FileIncidents, &incidents) {
		s.incidents.restore(incidents)
	}
	var snap monitoringSnapshot
	if s.snap.Load(persistence.FileMetrics, &snap) {
		s.metrics.restoreSamples(snap.Samples)
	}
	slog.Info("Monitoring state restored",
		"alerts", len(alerts),
		"incidents", len(incidents),
		"samples", len(snap.Samples))
}
