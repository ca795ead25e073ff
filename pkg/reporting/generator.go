// Package reporting generates multi-format reports from live component
// state: scheduled (daily, weekly, Friday), on demand through the Control
// API, and the periodically refreshed API/architecture documentation.
package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/eventstore"
	"github.com/omni-platform/cladc/pkg/models"
	"github.com/omni-platform/cladc/pkg/monitoring"
	"github.com/omni-platform/cladc/pkg/persistence"
	"github.com/omni-platform/cladc/pkg/version"
)

// EventSource is the event-store surface reports read from.
type EventSource interface {
	DailySummary(filters models.EventFilters) models.DailySummary
	AnalyticsSnapshot(period eventstore.Period) eventstore.AnalyticsSnapshot
	PatternAnalysis() []eventstore.Pattern
	Insights() []models.AngelInsight
	Len() int
}

// ModelSource is the registry surface reports read from.
type ModelSource interface {
	List() []models.Model
}

// MonitorSource is the monitoring surface reports read from.
type MonitorSource interface {
	Alerts(filters models.AlertFilters) []models.Alert
	Incidents() []models.Incident
	Aggregates() map[string]map[string]monitoring.Aggregate
}

// Emitter publishes report lifecycle events.
type Emitter interface {
	EmitReportPublished(ctx context.Context, report models.Report)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, report models.Report)

// EmitReportPublished implements Emitter.
func (f EmitterFunc) EmitReportPublished(ctx context.Context, report models.Report) {
	f(ctx, report)
}

// Config carries the reporting tunables.
type Config struct {
	ReportsDir       string
	DocsDir          string
	MaxReportHistory int
	Retention        time.Duration
}

// Generator builds, renders, stores, and publishes reports.
type Generator struct {
	cfg      Config
	events   EventSource
	registry ModelSource
	monitor  MonitorSource
	emitter  Emitter

	mu      sync.Mutex
	history []models.Report

	snap *persistence.Store
	now  func() time.Time
}

// NewGenerator creates a generator. emitter and snap may be nil.
func NewGenerator(cfg Config, events EventSource, registry ModelSource, monitor MonitorSource, emitter Emitter, snap *persistence.Store) *Generator {
	return &Generator{
		cfg:      cfg,
		events:   events,
		registry: registry,
		monitor:  monitor,
		emitter:  emitter,
		snap:     snap,
		now:      time.Now,
	}
}

var defaultFormats = []models.ReportFormat{models.FormatMarkdown, models.FormatHTML, models.FormatJSON}

// Generate builds one report. Unknown types return a validation error.
// Format rendering failures are tolerated: the report is stored with the
// formats that succeeded.
func (g *Generator) Generate(ctx context.Context, reportType models.ReportType, opts models.GenerateOptions) (models.Report, error) {
	sections, title, err := g.buildSections(reportType, opts)
	if err != nil {
		return models.Report{}, err
	}

	if opts.Author == "" {
		opts.Author = version.AppName
	}
	report := models.Report{
		ID:       uuid.New().String(),
		Type:     reportType,
		Title:    title,
		Sections: sections,
		Metadata: models.ReportMetadata{
			GeneratedAt: g.now(),
			Period:      opts.Period,
			Author:      opts.Author,
			Version:     version.GitCommit,
		},
	}

	formats := opts.Formats
	if len(formats) == 0 {
		formats = defaultFormats
	}
	report.Formatted = make(map[models.ReportFormat][]byte, len(formats))
	for _, format := range formats {
		rendered, err := render(report, format)
		if err != nil {
			slog.Warn("Report format rendering failed, continuing with remaining formats",
				"report_type", reportType,
				"format", format,
				"error", err)
			continue
		}
		report.Formatted[format] = rendered
	}

	g.writeFiles(report)
	g.store(report)

	slog.Info("Report generated",
		"report_id", report.ID,
		"type", reportType,
		"formats", len(report.Formatted))
	if g.emitter != nil {
		g.emitter.EmitReportPublished(ctx, report)
	}
	return report, nil
}

// RefreshDocumentation regenerates the API and architecture docs. Runs on
// the documentation update interval.
func (g *Generator) RefreshDocumentation(ctx context.Context) error {
	if _, err := g.Generate(ctx, models.ReportAPIDocumentation, models.GenerateOptions{
		Formats: []models.ReportFormat{models.FormatMarkdown},
	}); err != nil {
		return err
	}
	_, err := g.Generate(ctx, models.ReportSystemArchitecture, models.GenerateOptions{
		Formats: []models.ReportFormat{models.FormatMarkdown},
	})
	return err
}

// Reports lists stored reports, newest-first.
func (g *Generator) Reports(filters models.ReportFilters) []models.Report {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]models.Report, 0, len(g.history))
	for i := len(g.history) - 1; i >= 0; i-- {
		r := g.history[i]
		if filters.Type != "" && r.Type != filters.Type {
			continue
		}
		if filters.Since != nil && r.Metadata.GeneratedAt.Before(*filters.Since) {
			continue
		}
		out = append(out, r)
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
	}
	return out
}

// Report returns one stored report by id.
func (g *Generator) Report(id string) (models.Report, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.history {
		if r.ID == id {
			return r, nil
		}
	}
	return models.Report{}, errkind.New(errkind.NotFound, "reporting", "report %q not found", id)
}

// Cleanup drops reports older than retention and trims to the history
// cap. Runs every 24 hours.
func (g *Generator) Cleanup() int {
	cutoff := g.now().Add(-g.cfg.Retention)

	g.mu.Lock()
	defer g.mu.Unlock()

	kept := g.history[:0]
	var dropped int
	for _, r := range g.history {
		if r.Metadata.GeneratedAt.Before(cutoff) {
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	g.history = kept
	if len(g.history) > g.cfg.MaxReportHistory {
		dropped += len(g.history) - g.cfg.MaxReportHistory
		g.history = g.history[len(g.history)-g.cfg.MaxReportHistory:]
	}
	return dropped
}

// Snapshot writes the report history to disk. Documentation reports go to
// their own file.
func (g *Generator) Snapshot() error {
	if g.snap == nil {
		return nil
	}

	g.mu.Lock()
	reports := make(map[string]models.Report)
	docs := make(map[string]models.Report)
	for _, r := range g.history {
		if r.Type == models.ReportAPIDocumentation || r.Type == models.ReportSystemArchitecture {
			docs[r.ID] = r
		} else {
			reports[r.ID] = r
		}
	}
	g.mu.Unlock()

	if err := g.snap.Save(persistence.FileReports, reports); err != nil {
		return err
	}
	return g.snap.Save(persistence.FileDocs, docs)
}

// Restore loads the report history snapshot.
func (g *Generator) Restore() {
	if g.snap == nil {
		return
	}
	var reports, docs map[string]models.Report
	g.snap.Load(persistence.FileReports, &reports)
	g.snap.Load(persistence.FileDocs, &docs)

	merged := make([]models.Report, 0, len(reports)+len(docs))
	for _, r := range reports {
		merged = append(merged, r)
	}
	for _, r := range docs {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Metadata.GeneratedAt.Before(merged[j].Metadata.GeneratedAt)
	})

	g.mu.Lock()
	g.history = merged
	g.mu.Unlock()
	slog.Info("Report history restored", "reports", len(merged))
}

func (g *Generator) store(report models.Report) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.history = append(g.history, report)
	if len(g.history) > g.cfg.MaxReportHistory {
		g.history = g.history[len(g.history)-g.cfg.MaxReportHistory:]
	}
}

// writeFiles persists the rendered formats under the reports (or docs)
// directory. Write failures are logged, never fatal.
func (g *Generator) writeFiles(report models.Report) {
	dir := g.cfg.ReportsDir
	if report.Type == models.ReportAPIDocumentation || report.Type == models.ReportSystemArchitecture {
		dir = g.cfg.DocsDir
	}
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("Failed to create report directory", "dir", dir, "error", err)
		return
	}

	stamp := report.Metadata.GeneratedAt.Format("2006-01-02T15-04-05")
	for format, content := range report.Formatted {
		name := fmt.Sprintf("%s_%s.%s", report.Type, stamp, extensionFor(format))
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			slog.Warn("Failed to write report file", "file", name, "error", err)
		}
	}
}

func extensionFor(format models.ReportFormat) string {
	switch format {
	case models.FormatHTML:
		return "html"
	case models.FormatJSON:
		return "json"
	default:
		return "md"
	}
}
