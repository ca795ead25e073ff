package reporting

import (
	"fmt"
	"sort"

	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/eventstore"
	"github.com/omni-platform/cladc/pkg/models"
)

// buildSections assembles the section tree for one report type from live
// component state. The templates are static; only the data varies.
func (g *Generator) buildSections(reportType models.ReportType, opts models.GenerateOptions) ([]models.ReportSection, string, error) {
	switch reportType {
	case models.ReportDailySummary:
		return g.dailySummarySections(), "Daily Learning Summary", nil
	case models.ReportPerformance:
		return g.performanceSections(), "Model Performance Report", nil
	case models.ReportLearningInsights:
		return g.insightsSections(), "Learning Insights", nil
	case models.ReportSystemStatus:
		return g.systemStatusSections(), "System Status", nil
	case models.ReportAPIDocumentation:
		return apiDocumentationSections(), "Control API Reference", nil
	case models.ReportSystemArchitecture:
		return architectureSections(), "System Architecture", nil
	default:
		return nil, "", errkind.New(errkind.Validation, "reporting", "unknown report type %q", reportType)
	}
}

func (g *Generator) dailySummarySections() []models.ReportSection {
	summary := g.events.DailySummary(models.EventFilters{})

	overview := models.ReportSection{
		Heading: "Overview",
		Items: []string{
			fmt.Sprintf("Events processed: %d", summary.Count),
			fmt.Sprintf("Success rate: %.1f%%", summary.SuccessRate),
			fmt.Sprintf("Average processing time: %.1f ms", summary.AvgProcessingTime),
		},
	}

	domains := models.ReportSection{Heading: "Top Domains"}
	for _, d := range summary.TopDomains {
		domains.Items = append(domains.Items, fmt.Sprintf("%s: %d events", d.Key, d.Count))
	}
	if len(domains.Items) == 0 {
		domains.Body = "No domain activity in the last 24 hours."
	}

	angels := models.ReportSection{Heading: "Top Angels"}
	for _, a := range summary.TopAngels {
		angels.Items = append(angels.Items, fmt.Sprintf("%s: %d events", a.Key, a.Count))
	}
	if len(angels.Items) == 0 {
		angels.Body = "No angel activity in the last 24 hours."
	}

	insights := models.ReportSection{Heading: "Recent Insights"}
	for _, ins := range summary.Insights {
		insights.Items = append(insights.Items,
			fmt.Sprintf("[%s] %s (significance %.2f)", ins.Type, ins.PatternKey, ins.Significance))
	}
	if len(insights.Items) == 0 {
		insights.Body = "No insights recorded."
	}

	return []models.ReportSection{overview, domains, angels, insights}
}

func (g *Generator) performanceSections() []models.ReportSection {
	modelList := g.registry.List()
	sort.Slice(modelList, func(i, j int) bool { return modelList[i].Name < modelList[j].Name })

	fleet := models.ReportSection{Heading: "Model Fleet"}
	for _, m := range modelList {
		health := "healthy"
		if !m.Health.Healthy {
			health = "degraded"
		}
		fleet.Items = append(fleet.Items, fmt.Sprintf("%s v%s (%s, %s): performance %.3f",
			m.Name, m.Version, m.Status, health, m.CurrentPerformance))
	}
	if len(fleet.Items) == 0 {
		fleet.Body = "No models registered."
	}

	deployments := models.ReportSection{Heading: "Recent Deployments"}
	for _, m := range modelList {
		for i := len(m.DeploymentHistory) - 1; i >= 0 && i >= len(m.DeploymentHistory)-3; i-- {
			rec := m.DeploymentHistory[i]
			kind := "deploy"
			if rec.Rollback {
				kind = "rollback"
			}
			deployments.Items = append(deployments.Items, fmt.Sprintf("%s v%s (%s): %.3f at %s",
				m.Name, rec.Version, kind, rec.Performance, rec.DeployedAt.Format("2006-01-02 15:04")))
		}
	}
	if len(deployments.Items) == 0 {
		deployments.Body = "No deployments recorded."
	}

	analytics := g.events.AnalyticsSnapshot(eventstore.Period24h)
	perAngel := models.ReportSection{Heading: "Angel Performance (24h)"}
	angelNames := make([]string, 0, len(analytics.AngelPerformance))
	for name := range analytics.AngelPerformance {
		angelNames = append(angelNames, name)
	}
	sort.Strings(angelNames)
	for _, name := range angelNames {
		perf := analytics.AngelPerformance[name]
		perAngel.Items = append(perAngel.Items, fmt.Sprintf("%s: %d events, %.1f%% success, %.1f ms avg",
			name, perf.Count, perf.SuccessRate, perf.AvgProcessingTime))
	}
	if len(perAngel.Items) == 0 {
		perAngel.Body = "No angel activity in the last 24 hours."
	}

	return []models.ReportSection{fleet, deployments, perAngel}
}

func (g *Generator) insightsSections() []models.ReportSection {
	patterns := g.events.PatternAnalysis()
	detected := models.ReportSection{Heading: "Detected Patterns"}
	for _, p := range patterns {
		detected.Items = append(detected.Items, fmt.Sprintf("%s: %d occurrences, strength %.2f (%s)",
			p.Key, p.Count, p.Strength, p.Classification))
	}
	if len(detected.Items) == 0 {
		detected.Body = "No recurring patterns detected."
	}

	insights := models.ReportSection{Heading: "Insight History"}
	for _, ins := range g.events.Insights() {
		insights.Items = append(insights.Items,
			fmt.Sprintf("[%s] %s (significance %.2f, %s)",
				ins.Type, ins.PatternKey, ins.Significance, ins.Timestamp.Format("2006-01-02 15:04")))
	}
	if len(insights.Items) == 0 {
		insights.Body = "No insights recorded."
	}

	analytics := g.events.AnalyticsSnapshot(eventstore.Period24h)
	trend := models.ReportSection{
		Heading: "Activity Trend",
		Body:    fmt.Sprintf("Event volume over the last 24 hours is %s (%d events).", analytics.Trend, analytics.TotalEvents),
	}

	return []models.ReportSection{detected, insights, trend}
}

func (g *Generator) systemStatusSections() []models.ReportSection {
	active := true
	activeAlerts := g.monitor.Alerts(models.AlertFilters{Active: &active})
	alerts := models.ReportSection{Heading: "Active Alerts"}
	for _, a := range activeAlerts {
		alerts.Items = append(alerts.Items, fmt.Sprintf("[%s] %s/%s: %.2f over threshold %.2f (seen %d times)",
			a.Severity, a.Monitor, a.Metric, a.Value, a.Threshold, a.Count))
	}
	if len(alerts.Items) == 0 {
		alerts.Body = "No active alerts."
	}

	incidents := models.ReportSection{Heading: "Incidents"}
	for _, inc := range g.monitor.Incidents() {
		incidents.Items = append(incidents.Items, fmt.Sprintf("[%s] %s: %s (%d related alerts)",
			inc.Severity, inc.Component, inc.Status, len(inc.RelatedAlerts)))
	}
	if len(incidents.Items) == 0 {
		incidents.Body = "No incidents on record."
	}

	metrics := models.ReportSection{Heading: "Metric Rollups"}
	aggregates := g.monitor.Aggregates()
	windows := make([]string, 0, len(aggregates))
	for w := range aggregates {
		windows = append(windows, w)
	}
	sort.Strings(windows)
	for _, w := range windows {
		window := models.ReportSection{Heading: w}
		names := make([]string, 0, len(aggregates[w]))
		for name := range aggregates[w] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			agg := aggregates[w][name]
			window.Items = append(window.Items, fmt.Sprintf("%s: avg %.2f, min %.2f, max %.2f (%d samples)",
				name, agg.Avg, agg.Min, agg.Max, agg.Count))
		}
		metrics.Children = append(metrics.Children, window)
	}
	if len(metrics.Children) == 0 {
		metrics.Body = "No metric samples collected."
	}

	store := models.ReportSection{
		Heading: "Event Store",
		Body:    fmt.Sprintf("%d learning events retained.", g.events.Len()),
	}

	return []models.ReportSection{alerts, incidents, metrics, store}
}

// apiDocumentationSections is the static Control API reference, refreshed
// so the generated docs always carry the current version stamp.
func apiDocumentationSections() []models.ReportSection {
	return []models.ReportSection{
		{
			Heading: "Read Endpoints",
			Items: []string{
				"GET /api/v1/status — component status registry and uptime",
				"GET /api/v1/events — learning events, filterable by angel, domain, since, limit",
				"GET /api/v1/events/summary — 24h daily summary",
				"GET /api/v1/insights — recorded angel insights",
				"GET /api/v1/patterns — current pattern analysis",
				"GET /api/v1/models — registered models",
				"GET /api/v1/models/:name/versions — deployment history",
				"GET /api/v1/tasks — improvement tasks, newest-first",
				"GET /api/v1/alerts — alerts, filterable by severity and active state",
				"GET /api/v1/incidents — incidents, newest-first",
				"GET /api/v1/reports — stored reports",
				"GET /api/v1/docs — latest generated documentation",
			},
		},
		{
			Heading: "Write Endpoints",
			Items: []string{
				"POST /api/v1/models/:name/improve — enqueue an improvement task",
				"POST /api/v1/models/:name/rollback — roll back to the latest backup",
				"POST /api/v1/alerts/:id/acknowledge — acknowledge an alert",
				"POST /api/v1/incidents/:id/resolve — manually resolve an incident",
				"POST /api/v1/health-check — run monitoring management immediately",
				"POST /api/v1/reports — generate a report on demand",
				"POST /api/v1/ingest/events — ingest a learning event",
				"POST /api/v1/ingest/experiences — ingest an experience",
				"POST /api/v1/buffers/flush — flush experience buffers",
			},
		},
		{
			Heading: "Operational Endpoints",
			Items: []string{
				"GET /metrics — Prometheus exposition",
				"GET /healthz — liveness probe",
			},
		},
		{
			Heading: "Errors",
			Body: "Failures return {\"error\": {\"kind\", \"message\"}}. Validation maps to 400, " +
				"not_found to 404, conflict to 409, capacity_exceeded to 429, " +
				"bus_unavailable and timeout to 503, everything else to 500.",
		},
	}
}

func architectureSections() []models.ReportSection {
	return []models.ReportSection{
		{
			Heading: "Components",
			Items: []string{
				"bus — Kafka-style and AMQP-style channel adapter over Postgres NOTIFY/LISTEN with reconnect backoff",
				"eventstore — bounded angel learning event store with analytics, patterns, and insights",
				"experience — per-stream RL experience buffer with batch flushing and retry-bounded redelivery",
				"registry — versioned model registry with backups, rollback, and drift detection",
				"improvement — improvement task pipeline: analyze, collect, train, validate, smoke test, deploy",
				"monitoring — metric collection, threshold alerts, escalation, incident correlation, auto-recovery",
				"reporting — scheduled and on-demand multi-format report generation",
				"coordinator — subscription dispatch, periodic loops, lifecycle, and snapshot orchestration",
				"api — Gin Control API surface with Prometheus instrumentation",
			},
		},
		{
			Heading: "Data Flow",
			Body: "Angel events and RL experiences arrive on bus channels and land in the event store " +
				"and experience buffers. Periodic sweeps turn registry state into improvement tasks; " +
				"completed tasks deploy new model versions and publish model updates. Monitoring " +
				"samples every component, correlates alerts into incidents, and drives recovery " +
				"through the coordinator.",
		},
		{
			Heading: "Persistence",
			Body: "Each component snapshots its state to a JSON file under the data directory using " +
				"atomic temp-file renames. Snapshots are restored at startup; corrupt or missing " +
				"files degrade to empty state.",
		},
	}
}
