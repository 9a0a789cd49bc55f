package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/proxyprobe/internal/database"
	"github.com/nao1215/proxyprobe/internal/model"
)

// JSONWriter outputs reports in JSON format.
// This format is designed for tool integration and programmatic processing.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed JSON output.
	indent bool

	// indentPrefix is the prefix for each line in indented output.
	indentPrefix string

	// indentString is the indentation string (typically "  " or "\t").
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint enables pretty-printed JSON with default indentation.
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// jsonReport adds the derived findings to a report.
type jsonReport struct {
	*model.AggregateReport
	Findings []model.Finding
}

func (r jsonReport) MarshalJSON() ([]byte, error) {
	base, err := r.AggregateReport.MarshalJSON()
	if err != nil {
		return nil, err
	}
	findings := r.Findings
	if findings == nil {
		findings = []model.Finding{}
	}
	extra, err := json.Marshal(findings)
	if err != nil {
		return nil, err
	}
	// base always ends with '}' and holds at least the proxy field.
	out := make([]byte, 0, len(base)+len(extra)+14)
	out = append(out, base[:len(base)-1]...)
	out = append(out, `,"findings":`...)
	out = append(out, extra...)
	out = append(out, '}')
	return out, nil
}

// Write outputs one report as a JSON object, or several as an array.
func (w *JSONWriter) Write(reports ...*model.AggregateReport) (int, error) {
	wrapped := make([]jsonReport, len(reports))
	for i, r := range reports {
		wrapped[i] = jsonReport{AggregateReport: r, Findings: model.Findings(r)}
	}
	if len(wrapped) == 1 {
		return w.writeJSON(wrapped[0])
	}
	return w.writeJSON(wrapped)
}

// WritePerformance outputs the performance listing as a JSON array.
func (w *JSONWriter) WritePerformance(perfs []model.ProxyPerformance) (int, error) {
	if perfs == nil {
		perfs = []model.ProxyPerformance{}
	}
	return w.writeJSON(perfs)
}

// WriteHistory outputs the stored records of one proxy.
func (w *JSONWriter) WriteHistory(proxy string, records []database.ReportRecord) (int, error) {
	if records == nil {
		records = []database.ReportRecord{}
	}
	return w.writeJSON(struct {
		Proxy   string                  `json:"proxy"`
		Records []database.ReportRecord `json:"records"`
	}{proxy, records})
}

// writeJSON marshals the given value to JSON and writes it to the output.
func (w *JSONWriter) writeJSON(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}
