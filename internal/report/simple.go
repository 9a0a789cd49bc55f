package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/proxyprobe/internal/database"
	"github.com/nao1215/proxyprobe/internal/model"
)

const bannerWidth = 70

// SimpleWriter outputs human-readable text reports.
// This format is designed for terminal display with clear section formatting.
type SimpleWriter struct {
	baseWriter

	// verbose adds impact and recommendation lines to each finding.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs each report in human-readable format.
func (w *SimpleWriter) Write(reports ...*model.AggregateReport) (int, error) {
	var sb strings.Builder
	for i, r := range reports {
		if i > 0 {
			sb.WriteString("\n")
		}
		w.writeReport(&sb, r)
	}
	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeReport(sb *strings.Builder, r *model.AggregateReport) {
	writeBanner(sb, "PROXYPROBE REPORT")
	fmt.Fprintf(sb, "Proxy:      %s\n", r.Proxy)
	fmt.Fprintf(sb, "Checked At: %s\n", formatTime(r.CheckedAt))
	fmt.Fprintf(sb, "Elapsed:    %s\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(sb, "Status:     %s\n", statusText(r))
	sb.WriteString("\n")

	writeSection(sb, "RESULTS")
	for _, k := range r.Kinds {
		status, detail := summarize(r.Results[k])
		line := fmt.Sprintf("  %-18s %s", kindTitle(k)+":", status)
		if detail != "" {
			line += " (" + detail + ")"
		}
		sb.WriteString(line + "\n")
	}
	sb.WriteString("\n")

	writeSection(sb, "FINDINGS")
	findings := model.Findings(r)
	if len(findings) == 0 {
		sb.WriteString("  No issues detected.\n")
	}
	for _, f := range findings {
		fmt.Fprintf(sb, "  [%s] %-9s %s: %s\n", severityIndicator(f.Severity), f.Severity, humanize(f.Type), f.Detail)
		if w.verbose {
			info := model.GetFindingInfo(f.Type)
			fmt.Fprintf(sb, "        Impact: %s\n", info.Impact)
			fmt.Fprintf(sb, "        Recommendation: %s\n", info.Recommendation)
		}
	}
	sb.WriteString(strings.Repeat("=", bannerWidth) + "\n")
}

// WritePerformance outputs one line per proxy.
func (w *SimpleWriter) WritePerformance(perfs []model.ProxyPerformance) (int, error) {
	var sb strings.Builder
	writeBanner(&sb, "PROXY PERFORMANCE")
	if len(perfs) == 0 {
		sb.WriteString("No proxies have been checked yet.\n")
		return io.WriteString(w.output, sb.String())
	}
	fmt.Fprintf(&sb, "%-28s %7s %9s %8s  %s\n", "PROXY", "CHECKS", "SUCCESSES", "UPTIME", "LAST CHECKED")
	for _, p := range perfs {
		fmt.Fprintf(&sb, "%-28s %7d %9d %7s%%  %s\n",
			p.Proxy, p.CheckCount, p.SuccessCount,
			strconv.FormatFloat(p.Uptime, 'f', 1, 64), formatTime(p.LastChecked))
	}
	return io.WriteString(w.output, sb.String())
}

// WriteHistory outputs one line per stored check, newest first.
func (w *SimpleWriter) WriteHistory(proxy string, records []database.ReportRecord) (int, error) {
	var sb strings.Builder
	writeBanner(&sb, "CHECK HISTORY: "+proxy)
	if len(records) == 0 {
		sb.WriteString("No checks recorded.\n")
		return io.WriteString(w.output, sb.String())
	}
	for _, rec := range records {
		row := historyRow(rec)
		fmt.Fprintf(&sb, "%s  success=%-5s anonymity=%-11s failed=%s\n", row[0], row[1], row[2], row[3])
	}
	return io.WriteString(w.output, sb.String())
}

func writeBanner(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("=", bannerWidth) + "\n")
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("=", bannerWidth) + "\n")
}

func writeSection(sb *strings.Builder, title string) {
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("-", bannerWidth) + "\n")
}

// severityIndicator returns a short marker for a severity level.
func severityIndicator(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "!!!"
	case model.SeverityHigh:
		return "!!"
	case model.SeverityMedium:
		return "!"
	case model.SeverityLow:
		return "-"
	default:
		return "i"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}

// historyRow renders a stored record as checked-at, success, anonymity and failed probes.
func historyRow(rec database.ReportRecord) []string {
	anonymity := rec.Anonymity
	if anonymity == "" {
		anonymity = "-"
	}
	failed := "-"
	if len(rec.FailedProbes) > 0 {
		failed = strings.Join(rec.FailedProbes, ",")
	}
	return []string{formatTime(rec.CheckedAt), strconv.FormatBool(rec.Success), anonymity, failed}
}
