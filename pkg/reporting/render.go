package reporting

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/omni-platform/cladc/pkg/errkind"
	"github.com/omni-platform/cladc/pkg/models"
)

// render produces one format of a report. Each format renders
// independently so a failure in one never blocks the others.
func render(report models.Report, format models.ReportFormat) ([]byte, error) {
	switch format {
	case models.FormatMarkdown:
		return renderMarkdown(report), nil
	case models.FormatHTML:
		return renderHTML(report), nil
	case models.FormatJSON:
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return nil, errkind.Wrap(errkind.Serialization, "reporting", err, "marshal report %s", report.ID)
		}
		return out, nil
	default:
		return nil, errkind.New(errkind.Validation, "reporting", "unknown report format %q", format)
	}
}

func renderMarkdown(report models.Report) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", report.Title)
	fmt.Fprintf(&b, "Generated %s by %s (%s)\n",
		report.Metadata.GeneratedAt.Format("2006-01-02 15:04:05 MST"),
		report.Metadata.Author,
		report.Metadata.Version)
	for _, section := range report.Sections {
		writeMarkdownSection(&b, section, 2)
	}
	return []byte(b.String())
}

func writeMarkdownSection(b *strings.Builder, section models.ReportSection, level int) {
	fmt.Fprintf(b, "\n%s %s\n\n", strings.Repeat("#", level), section.Heading)
	if section.Body != "" {
		fmt.Fprintf(b, "%s\n", section.Body)
	}
	for _, item := range section.Items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	for _, child := range section.Children {
		writeMarkdownSection(b, child, level+1)
	}
}

func renderHTML(report models.Report) []byte {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(report.Title))
	b.WriteString("</head>\n<body>\n")
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(report.Title))
	fmt.Fprintf(&b, "<p>Generated %s by %s (%s)</p>\n",
		report.Metadata.GeneratedAt.Format("2006-01-02 15:04:05 MST"),
		html.EscapeString(report.Metadata.Author),
		html.EscapeString(report.Metadata.Version))
	for _, section := range report.Sections {
		writeHTMLSection(&b, section, 2)
	}
	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}

func writeHTMLSection(b *strings.Builder, section models.ReportSection, level int) {
	if level > 6 {
		level = 6
	}
	fmt.Fprintf(b, "<h%d>%s</h%d>\n", level, html.EscapeString(section.Heading), level)
	if section.Body != "" {
		fmt.Fprintf(b, "<p>%s</p>\n", html.EscapeString(section.Body))
	}
	if len(section.Items) > 0 {
		b.WriteString("<ul>\n")
		for _, item := range section.Items {
			fmt.Fprintf(b, "<li>%s</li>\n", html.EscapeString(item))
		}
		b.WriteString("</ul>\n")
	}
	for _, child := range section.Children {
		writeHTMLSection(b, child, level+1)
	}
}
