package report

import (
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/proxyprobe/internal/database"
	"github.com/nao1215/proxyprobe/internal/model"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the reports in Markdown format.
// Several reports are preceded by an overview table.
func (w *MarkdownWriter) Write(reports ...*model.AggregateReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Proxy Check Report")
	md.PlainText("")

	if len(reports) > 1 {
		w.writeOverview(md, reports)
	}

	for _, r := range reports {
		w.writeReport(md, r)
	}

	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// writeOverview writes one row per proxy.
func (w *MarkdownWriter) writeOverview(md *markdown.Markdown, reports []*model.AggregateReport) {
	md.H2("Overview")
	md.PlainText("")

	rows := make([][]string, len(reports))
	for i, r := range reports {
		anonymity := "-"
		if a := r.Anonymity(); a != nil {
			anonymity = humanize(a.Anonymity.String())
		}
		rows[i] = []string{
			"`" + r.Proxy + "`",
			statusText(r),
			anonymity,
			r.Elapsed.Round(time.Millisecond).String(),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Proxy", "Status", "Anonymity", "Elapsed"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeReport writes the property table, results and findings of one proxy.
func (w *MarkdownWriter) writeReport(md *markdown.Markdown, r *model.AggregateReport) {
	md.H2(r.Proxy)
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Proxy", "`" + r.Proxy + "`"},
			{"Checked At", formatTime(r.CheckedAt)},
			{"Elapsed", r.Elapsed.Round(time.Millisecond).String()},
			{"Status", statusText(r)},
		},
	})
	md.PlainText("")

	md.H3("Results")
	md.PlainText("")
	rows := make([][]string, 0, len(r.Kinds))
	for _, k := range r.Kinds {
		status, detail := summarize(r.Results[k])
		if detail == "" {
			detail = "-"
		}
		rows = append(rows, []string{kindTitle(k), status, truncateString(detail, 80)})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Probe", "Result", "Detail"},
		Rows:   rows,
	})
	md.PlainText("")

	w.writeFindings(md, model.Findings(r))
}

// writeFindings writes the severity alert, distribution chart and table.
func (w *MarkdownWriter) writeFindings(md *markdown.Markdown, findings []model.Finding) {
	md.H3("Findings")
	md.PlainText("")

	counts := make(map[model.Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}

	switch {
	case counts[model.SeverityCritical] > 0:
		md.Cautionf("%d critical finding(s). This proxy should not be trusted.", counts[model.SeverityCritical])
	case counts[model.SeverityHigh] > 0:
		md.Warningf("%d high severity finding(s) expose traffic routed through this proxy.", counts[model.SeverityHigh])
	case counts[model.SeverityMedium] > 0:
		md.Importantf("%d finding(s) limit the usefulness of this proxy.", counts[model.SeverityMedium])
	case len(findings) > 0:
		md.Note("Only low severity and informational findings detected.")
	default:
		md.Tip("No issues detected.")
	}
	md.PlainText("")

	if len(findings) == 0 {
		return
	}

	if len(findings) > 1 {
		w.writePieChart(md, counts)
	}

	rows := make([][]string, len(findings))
	for i, f := range findings {
		info := model.GetFindingInfo(f.Type)
		rows[i] = []string{
			f.Severity.String(),
			humanize(f.Type),
			truncateString(f.Detail, 50),
			truncateString(info.Recommendation, 60),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Severity", "Finding", "Detail", "Recommendation"},
		Rows:   rows,
	})
	md.PlainText("")

	seen := make(map[string]bool)
	for _, f := range findings {
		if seen[f.Type] {
			continue
		}
		seen[f.Type] = true
		md.Details(humanize(f.Type), model.GetFindingInfo(f.Type).Impact)
	}
	md.PlainText("")
}

// writePieChart writes a mermaid pie chart for severity distribution.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, counts map[model.Severity]int) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Finding Severity Distribution"),
		piechart.WithShowData(true),
	)
	for sev := model.SeverityCritical; sev >= model.SeverityInfo; sev-- {
		if counts[sev] > 0 {
			chart.LabelAndIntValue(humanize(sev.String()), uint64(counts[sev]))
		}
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// WritePerformance outputs the performance listing as a table.
func (w *MarkdownWriter) WritePerformance(perfs []model.ProxyPerformance) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Proxy Performance")
	md.PlainText("")

	if len(perfs) == 0 {
		md.PlainText("No proxies have been checked yet.")
		md.PlainText("")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(perfs))
	for i, p := range perfs {
		rows[i] = []string{
			"`" + p.Proxy + "`",
			strconv.Itoa(p.CheckCount),
			strconv.Itoa(p.SuccessCount),
			strconv.FormatFloat(p.Uptime, 'f', 1, 64) + "%",
			formatTime(p.LastChecked),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Proxy", "Checks", "Successes", "Uptime", "Last Checked"},
		Rows:   rows,
	})
	md.PlainText("")
	return len(md.String()), md.Build()
}

// WriteHistory outputs the stored records of one proxy as a table.
func (w *MarkdownWriter) WriteHistory(proxy string, records []database.ReportRecord) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("Check History")
	md.PlainText("")
	md.PlainTextf("Proxy: `%s`", proxy)
	md.PlainText("")

	if len(records) == 0 {
		md.PlainText("No checks recorded.")
		md.PlainText("")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(records))
	for i, rec := range records {
		rows[i] = historyRow(rec)
	}
	md.Table(markdown.TableSet{
		Header: []string{"Checked At", "Success", "Anonymity", "Failed Probes"},
		Rows:   rows,
	})
	md.PlainText("")
	return len(md.String()), md.Build()
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [proxyprobe](https://github.com/nao1215/proxyprobe)*")
}
