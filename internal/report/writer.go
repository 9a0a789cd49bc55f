package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/proxyprobe/internal/database"
	"github.com/nao1215/proxyprobe/internal/model"
)

// Writer defines the interface for report output.
type Writer interface {
	// Write outputs the reports of one or more proxies.
	// Returns the number of bytes written and any error encountered.
	Write(reports ...*model.AggregateReport) (int, error)

	// WritePerformance outputs the historical performance of proxies.
	WritePerformance(perfs []model.ProxyPerformance) (int, error)

	// WriteHistory outputs stored check records of one proxy.
	WriteHistory(proxy string, records []database.ReportRecord) (int, error)
}

// Output formats accepted by NewWriter.
const (
	FormatSimple   = "simple"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// NewWriter returns the writer for format. An empty format selects simple text.
func NewWriter(format string, output io.Writer) (Writer, error) {
	switch strings.ToLower(format) {
	case "", FormatSimple:
		return NewSimpleWriter(output), nil
	case FormatJSON:
		return NewJSONWriter(output, WithPrettyPrint()), nil
	case FormatMarkdown:
		return NewMarkdownWriter(output), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// MultiWriter writes to multiple Writers simultaneously.
// This is useful for outputting to both terminal and file.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the reports to all configured Writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(reports ...*model.AggregateReport) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.Write(reports...) })
}

// WritePerformance outputs the performance listing to all configured Writers.
func (m *MultiWriter) WritePerformance(perfs []model.ProxyPerformance) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.WritePerformance(perfs) })
}

// WriteHistory outputs the history to all configured Writers.
func (m *MultiWriter) WriteHistory(proxy string, records []database.ReportRecord) (int, error) {
	return m.each(func(w Writer) (int, error) { return w.WriteHistory(proxy, records) })
}

func (m *MultiWriter) each(fn func(Writer) (int, error)) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := fn(w)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

var titleCaser = cases.Title(language.English)

// humanize turns a wire name such as "connection_failed" into "Connection Failed".
func humanize(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

// kindTitles are the display names of probe kinds whose humanized wire
// name would read poorly.
var kindTitles = map[model.ProbeKind]string{
	model.KindHTTPS:   "HTTPS Support",
	model.KindDNSLeak: "DNS Leak",
	model.KindSites:   "Site Support",
	model.KindContent: "Content Integrity",
}

// kindTitle returns the display name of a probe kind.
func kindTitle(k model.ProbeKind) string {
	if t, ok := kindTitles[k]; ok {
		return t
	}
	return humanize(string(k))
}

// statusText summarizes how many probes of a report failed.
func statusText(r *model.AggregateReport) string {
	switch {
	case len(r.Errors) == 0:
		return "Complete"
	case !r.Succeeded():
		return "Failed (no probe returned data)"
	default:
		return fmt.Sprintf("Partial (%d of %d probes failed)", len(r.Errors), len(r.Kinds))
	}
}

// summarize returns a one-line status and detail for one probe result.
func summarize(res model.ProbeResult) (status, detail string) {
	if res.Err != nil {
		detail = res.Err.Detail
		if res.Err.StatusCode != 0 {
			detail = fmt.Sprintf("status %d", res.Err.StatusCode)
		}
		return "Error: " + humanize(res.Err.Kind.String()), detail
	}

	switch v := res.Value.(type) {
	case *model.AnonymityResult:
		status = humanize(v.Anonymity.String())
		switch {
		case len(v.LeakingHeaders) > 0:
			detail = "leaking: " + strings.Join(v.LeakingHeaders, ", ")
		case len(v.FlaggedHeaders) > 0:
			detail = "flagged: " + strings.Join(v.FlaggedHeaders, ", ")
		default:
			detail = "no identifying headers"
		}
	case *model.HTTPSResult:
		switch {
		case v.Supported == nil:
			status = "Unknown"
			detail = "no CONNECT response"
		case *v.Supported:
			status = "Supported"
			detail = v.StatusLine
		default:
			status = "Unsupported"
			detail = v.StatusLine
			if v.Hint != "" {
				detail += " (" + v.Hint + ")"
			}
		}
	case *model.ContentResult:
		if !v.Changed {
			status = "Unmodified"
			detail = "sha3-256 " + shortDigest(v.Digest)
			break
		}
		status = "Modified"
		detail = strconv.Itoa(len(v.ChangedLines)) + " line(s) differ"
		if !v.Signals.Empty() {
			names := make([]string, 0)
			for _, sig := range v.Signals.Signals() {
				names = append(names, humanize(sig.String()))
			}
			detail += "; " + strings.Join(names, ", ")
		}
	case *model.DNSLeakResult:
		switch {
		case v.LeakDetected == nil:
			status = "Inconclusive"
		case *v.LeakDetected:
			status = "Leaking"
		default:
			status = "Not Leaking"
		}
		detail = fmt.Sprintf("%d resolver(s)", len(v.Servers))
		if v.Conclusion != "" {
			detail += "; " + v.Conclusion
		}
	case *model.LocationResult:
		status = v.CountryCode
		parts := make([]string, 0, 3)
		for _, p := range []string{v.City, v.Country, v.ISP} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		detail = strings.Join(parts, ", ")
	case *model.SitesResult:
		reachable := 0
		for _, s := range v.Sites {
			if s.Reachable {
				reachable++
			}
		}
		status = fmt.Sprintf("%d/%d reachable", reachable, len(v.Sites))
		unreachable := make([]string, 0)
		for _, s := range v.Sites {
			if !s.Reachable {
				unreachable = append(unreachable, s.URL)
			}
		}
		if len(unreachable) > 0 {
			detail = "unreachable: " + strings.Join(unreachable, ", ")
		}
	default:
		status = "No Data"
	}
	return status, detail
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
