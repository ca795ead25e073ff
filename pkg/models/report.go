package models

import "time"

// ReportType selects a static section template.
type ReportType string

// Report type values.
const (
	ReportDailySummary       ReportType = "daily_summary"
	ReportPerformance        ReportType = "performance_report"
	ReportLearningInsights   ReportType = "learning_insights"
	ReportSystemStatus       ReportType = "system_status"
	ReportAPIDocumentation   ReportType = "api_documentation"
	ReportSystemArchitecture ReportType = "system_architecture"
)

// ReportFormat names a rendering of a report.
type ReportFormat string

// Report format values.
const (
	FormatMarkdown ReportFormat = "markdown"
	FormatHTML     ReportFormat = "html"
	FormatJSON     ReportFormat = "json"
)

// Report is an immutable generated snapshot. Section content never changes
// after generation; formats that failed to render are simply absent.
type Report struct {
	ID        string                  `json:"id"`
	Type      ReportType              `json:"type"`
	Title     string                  `json:"title"`
	Sections  []ReportSection         `json:"sections"`
	Formatted map[ReportFormat][]byte `json:"-"`
	Metadata  ReportMetadata          `json:"metadata"`
}

// ReportSection is one node of a report's section tree.
type ReportSection struct {
	Heading  string          `json:"heading"`
	Body     string          `json:"body,omitempty"`
	Items    []string        `json:"items,omitempty"`
	Children []ReportSection `json:"children,omitempty"`
}

// ReportMetadata records how and when a report was produced.
type ReportMetadata struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Period      time.Duration `json:"period,omitempty"`
	Author      string        `json:"author"`
	Version     string        `json:"version"`
}

// ReportFilters contains filtering options for listing reports.
type ReportFilters struct {
	Type  ReportType `json:"type,omitempty"`
	Since *time.Time `json:"since,omitempty"`
	Limit int        `json:"limit,omitempty"`
}

// GenerateOptions controls on-demand report generation.
type GenerateOptions struct {
	Period  time.Duration  `json:"period,omitempty"`
	Formats []ReportFormat `json:"formats,omitempty"`
	Author  string         `json:"author,omitempty"`
}
