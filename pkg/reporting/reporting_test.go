package reporting

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/eventstore"
	"github.com/omni-platform/cladc/pkg/models"
	"github.com/omni-platform/cladc/pkg/monitoring"
	"github.com/omni-platform/cladc/pkg/persistence"
)

type fakeEvents struct {
	summary   models.DailySummary
	analytics eventstore.AnalyticsSnapshot
	patterns  []eventstore.Pattern
	insights  []models.AngelInsight
	total     int
}

func (f *fakeEvents) DailySummary(models.EventFilters) models.DailySummary { return f.summary }
func (f *fakeEvents) AnalyticsSnapshot(eventstore.Period) eventstore.AnalyticsSnapshot {
	return f.analytics
}
func (f *fakeEvents) PatternAnalysis() []eventstore.Pattern { return f.patterns }
func (f *fakeEvents) Insights() []models.AngelInsight       { return f.insights }
func (f *fakeEvents) Len() int                              { return f.total }

type fakeModels struct{ models []models.Model }

func (f *fakeModels) List() []models.Model { return f.models }

type fakeMonitor struct {
	alerts     []models.Alert
	incidents  []models.Incident
	aggregates map[string]map[string]monitoring.Aggregate
}

func (f *fakeMonitor) Alerts(models.AlertFilters) []models.Alert { return f.alerts }
func (f *fakeMonitor) Incidents() []models.Incident              { return f.incidents }
func (f *fakeMonitor) Aggregates() map[string]map[string]monitoring.Aggregate {
	return f.aggregates
}

func newTestGenerator(t *testing.T) (*Generator, *fakeEvents) {
	t.Helper()
	events := &fakeEvents{
		summary: models.DailySummary{
			Count:             10,
			SuccessRate:       50,
			AvgProcessingTime: 200,
			TopDomains:        []models.DomainCount{{Key: "traffic", Count: 10}},
			TopAngels:         []models.DomainCount{{Key: "angel-1", Count: 10}},
		},
		analytics: eventstore.AnalyticsSnapshot{
			Period:      eventstore.Period24h,
			TotalEvents: 10,
			Trend:       eventstore.TrendStable,
			AngelPerformance: map[string]eventstore.AngelPerformance{
				"angel-1": {Count: 10, SuccessRate: 50, AvgProcessingTime: 200},
			},
		},
		patterns: []eventstore.Pattern{
			{Key: "angel-1|traffic|true", Count: 4, Strength: 0.57, Classification: models.InsightStablePattern},
		},
		total: 10,
	}
	registry := &fakeModels{models: []models.Model{{
		Name:               "q_learning",
		Version:            models.Version{Major: 1, Minor: 0, Patch: 1},
		Status:             models.ModelStatusActive,
		Health:             models.ModelHealth{Healthy: true},
		CurrentPerformance: 0.82,
		DeploymentHistory: []models.DeploymentRecord{
			{Version: models.Version{Major: 1, Minor: 0, Patch: 1}, Performance: 0.82, DeployedAt: time.Now()},
		},
	}}}
	monitor := &fakeMonitor{
		alerts: []models.Alert{{
			ID: "a1", Monitor: "system_cpu", Metric: monitoring.MetricCPUUsage,
			Severity: models.SeverityCritical, Value: 92, Threshold: 90, Count: 2,
		}},
		aggregates: map[string]map[string]monitoring.Aggregate{
			"5m": {monitoring.MetricCPUUsage: {Count: 5, Avg: 80, Min: 70, Max: 92}},
		},
	}
	gen := NewGenerator(Config{
		ReportsDir:       filepath.Join(t.TempDir(), "reports"),
		DocsDir:          filepath.Join(t.TempDir(), "docs"),
		MaxReportHistory: 1000,
		Retention:        30 * 24 * time.Hour,
	}, events, registry, monitor, nil, nil)
	return gen, events
}

func TestGenerateDailySummary(t *testing.T) {
	gen, _ := newTestGenerator(t)

	report, err := gen.Generate(context.Background(), models.ReportDailySummary, models.GenerateOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, models.ReportDailySummary, report.Type)
	assert.Len(t, report.Formatted, 3)

	md := string(report.Formatted[models.FormatMarkdown])
	assert.Contains(t, md, "# Daily Learning Summary")
	assert.Contains(t, md, "Events processed: 10")
	assert.Contains(t, md, "Success rate: 50.0%")
	assert.Contains(t, md, "traffic: 10 events")

	html := string(report.Formatted[models.FormatHTML])
	assert.Contains(t, html, "<h1>Daily Learning Summary</h1>")
	assert.Contains(t, html, "<li>traffic: 10 events</li>")

	assert.Contains(t, string(report.Formatted[models.FormatJSON]), `"daily_summary"`)
}

func TestGenerateUnknownTypeFails(t *testing.T) {
	gen, _ := newTestGenerator(t)

	_, err := gen.Generate(context.Background(), models.ReportType("bogus"), models.GenerateOptions{})
	require.Error(t, err)
	assert.True(t, errkind.IsValidation(err))
	assert.Empty(t, gen.Reports(models.ReportFilters{}))
}

func TestGeneratePerformanceReport(t *testing.T) {
	gen, _ := newTestGenerator(t)

	report, err := gen.Generate(context.Background(), models.ReportPerformance, models.GenerateOptions{
		Formats: []models.ReportFormat{models.FormatMarkdown},
	})
	require.NoError(t, err)

	md := string(report.Formatted[models.FormatMarkdown])
	assert.Contains(t, md, "q_learning v1.0.1")
	assert.Contains(t, md, "performance 0.820")
	assert.Contains(t, md, "angel-1: 10 events, 50.0% success")
	assert.NotContains(t, md, "html")
	assert.Len(t, report.Formatted, 1)
}

func TestGenerateSystemStatus(t *testing.T) {
	gen, _ := newTestGenerator(t)

	report, err := gen.Generate(context.Background(), models.ReportSystemStatus, models.GenerateOptions{
		Formats: []models.ReportFormat{models.FormatMarkdown},
	})
	require.NoError(t, err)

	md := string(report.Formatted[models.FormatMarkdown])
	assert.Contains(t, md, "system_cpu/cpu_usage")
	assert.Contains(t, md, "seen 2 times")
	assert.Contains(t, md, "avg 80.00, min 70.00, max 92.00 (5 samples)")
	assert.Contains(t, md, "10 learning events retained")
}

func TestGenerateWritesFiles(t *testing.T) {
	gen, _ := newTestGenerator(t)

	_, err := gen.Generate(context.Background(), models.ReportDailySummary, models.GenerateOptions{})
	require.NoError(t, err)

	entries, err := os.ReadDir(gen.cfg.ReportsDir)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, entry := range entries {
		assert.True(t, strings.HasPrefix(entry.Name(), "daily_summary_"))
	}
}

func TestRefreshDocumentationWritesToDocsDir(t *testing.T) {
	gen, _ := newTestGenerator(t)

	require.NoError(t, gen.RefreshDocumentation(context.Background()))

	entries, err := os.ReadDir(gen.cfg.DocsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	docs := gen.Reports(models.ReportFilters{Type: models.ReportAPIDocumentation})
	require.Len(t, docs, 1)
	md := string(docs[0].Formatted[models.FormatMarkdown])
	assert.Contains(t, md, "GET /api/v1/status")
	assert.Contains(t, md, "POST /api/v1/reports")
}

func TestReportsFilters(t *testing.T) {
	gen, _ := newTestGenerator(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	gen.now = func() time.Time { return base }
	_, err := gen.Generate(ctx, models.ReportDailySummary, models.GenerateOptions{})
	require.NoError(t, err)

	gen.now = func() time.Time { return base.Add(time.Hour) }
	second, err := gen.Generate(ctx, models.ReportSystemStatus, models.GenerateOptions{})
	require.NoError(t, err)

	all := gen.Reports(models.ReportFilters{})
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID) // newest first

	since := base.Add(30 * time.Minute)
	filtered := gen.Reports(models.ReportFilters{Since: &since})
	require.Len(t, filtered, 1)
	assert.Equal(t, models.ReportSystemStatus, filtered[0].Type)

	byType := gen.Reports(models.ReportFilters{Type: models.ReportDailySummary})
	require.Len(t, byType, 1)

	_, err = gen.Report("missing")
	assert.True(t, errkind.IsNotFound(err))
}

func TestCleanupDropsExpiredReports(t *testing.T) {
	gen, _ := newTestGenerator(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	gen.now = func() time.Time { return base.Add(-31 * 24 * time.Hour) }
	_, err := gen.Generate(ctx, models.ReportDailySummary, models.GenerateOptions{})
	require.NoError(t, err)

	gen.now = func() time.Time { return base }
	_, err = gen.Generate(ctx, models.ReportSystemStatus, models.GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, gen.Cleanup())
	remaining := gen.Reports(models.ReportFilters{})
	require.Len(t, remaining, 1)
	assert.Equal(t, models.ReportSystemStatus, remaining[0].Type)
}

func TestHistoryCap(t *testing.T) {
	gen, _ := newTestGenerator(t)
	gen.cfg.MaxReportHistory = 3
	ctx := context.Background()

	for range 5 {
		_, err := gen.Generate(ctx, models.ReportDailySummary, models.GenerateOptions{
			Formats: []models.ReportFormat{models.FormatJSON},
		})
		require.NoError(t, err)
	}
	assert.Len(t, gen.Reports(models.ReportFilters{}), 3)
}

func TestEmitterInvokedOnGenerate(t *testing.T) {
	gen, _ := newTestGenerator(t)
	var published []models.Report
	gen.emitter = EmitterFunc(func(_ context.Context, report models.Report) {
		published = append(published, report)
	})

	_, err := gen.Generate(context.Background(), models.ReportDailySummary, models.GenerateOptions{})
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, models.ReportDailySummary, published[0].Type)
}

func TestSnapshotRoundTrip(t *testing.T) {
	gen, _ := newTestGenerator(t)
	snap, err := persistence.NewStore(t.TempDir())
	require.NoError(t, err)
	gen.snap = snap
	ctx := context.Background()

	_, err = gen.Generate(ctx, models.ReportDailySummary, models.GenerateOptions{})
	require.NoError(t, err)
	require.NoError(t, gen.RefreshDocumentation(ctx))
	require.NoError(t, gen.Snapshot())

	restored, _ := newTestGenerator(t)
	restored.snap = gen.snap
	restored.Restore()

	reports := restored.Reports(models.ReportFilters{})
	assert.Len(t, reports, 3)
	assert.Len(t, restored.Reports(models.ReportFilters{Type: models.ReportAPIDocumentation}), 1)
}

func TestSchedulerFiresDueSlots(t *testing.T) {
	gen, _ := newTestGenerator(t)
	sched, err := NewScheduler(gen, time.Hour)
	require.NoError(t, err)

	// Monday 2026-08-24, just before the daily 09:00 slot.
	start := time.Date(2026, 8, 24, 8, 30, 0, 0, time.UTC)
	sched.now = func() time.Time { return start }
	for _, slot := range sched.slots {
		slot.lastRun = start
	}
	sched.lastDocs = start
	sched.lastCleanup = start

	sched.Tick(context.Background())
	assert.Empty(t, gen.Reports(models.ReportFilters{}), "nothing due yet")

	// Past 09:00: the daily summary fires, the weekly Monday 08:00 slot
	// does not because its anchor is already past 08:00.
	sched.now = func() time.Time { return start.Add(time.Hour) }
	sched.Tick(context.Background())
	reports := gen.Reports(models.ReportFilters{})
	require.Len(t, reports, 1)
	assert.Equal(t, models.ReportDailySummary, reports[0].Type)

	// A second tick in the same hour does not re-fire.
	sched.now = func() time.Time { return start.Add(90 * time.Minute) }
	sched.Tick(context.Background())
	assert.Len(t, gen.Reports(models.ReportFilters{}), 1)
}

func TestSchedulerRefreshesDocsAndCleansUp(t *testing.T) {
	gen, _ := newTestGenerator(t)
	sched, err := NewScheduler(gen, time.Hour)
	require.NoError(t, err)

	start := time.Date(2026, 8, 24, 12, 30, 0, 0, time.UTC)
	sched.now = func() time.Time { return start }
	for _, slot := range sched.slots {
		slot.lastRun = start
	}
	sched.lastDocs = start
	sched.lastCleanup = start

	sched.now = func() time.Time { return start.Add(2 * time.Hour) }
	sched.Tick(context.Background())

	docs := gen.Reports(models.ReportFilters{Type: models.ReportAPIDocumentation})
	assert.Len(t, docs, 1)
	assert.Len(t, gen.Reports(models.ReportFilters{Type: models.ReportSystemArchitecture}), 1)
}
