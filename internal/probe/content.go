package probe

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"

	"github.com/nao1215/proxyprobe/internal/model"
	"golang.org/x/crypto/sha3"
)

// DefaultExpectedContent is the body of the fixed content test page.
const DefaultExpectedContent = `<!DOCTYPE html>
<html lang="en">
<body>
<p>roses are red violets are blue if this text is changed then proxy no bueno </p>
</body>
</html>`

// Content fetches the fixed test page through the proxy and compares it
// line by line with the expected content. Redirects are not followed: a 3xx
// answer to a page that never redirects is itself a sign of tampering.
func (p *Prober) Content(ctx context.Context, target model.ProbeTarget) (*model.ContentResult, error) {
	if p.env.TestPageURL == "" {
		return nil, model.ErrNotConfigured
	}
	expected := p.env.ExpectedContent
	if expected == "" {
		expected = DefaultExpectedContent
	}

	resp, body, err := p.get(ctx, target, p.env.TestPageURL, false)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, &model.StatusError{Code: resp.StatusCode, URL: p.env.TestPageURL}
	}

	res := CompareContent(expected, string(body), ScanLine)
	res.StatusCode = resp.StatusCode
	res.Digest = digest(body)

	if isRedirect(resp.StatusCode) {
		res.Changed = true
		if len(body) == 0 || redirectsAway(p.env.TestPageURL, resp.Header.Get("Location")) {
			res.Signals.Add(model.SignalRedirect)
		}
	}

	p.logger.Debug("content probe finished",
		"proxy", target.Address(),
		"changed", res.Changed,
		"signals", res.Signals.String())
	return res, nil
}

// CompareContent compares got with expected line by line. When any line
// differs, scan is applied to every received line and the signals are merged.
// When nothing differs scan is never called.
func CompareContent(expected, got string, scan func(string) model.SignalSet) *model.ContentResult {
	want := splitLines(expected)
	have := splitLines(got)

	res := &model.ContentResult{}
	n := max(len(want), len(have))
	for i := range n {
		if i >= len(want) || i >= len(have) || want[i] != have[i] {
			res.ChangedLines = append(res.ChangedLines, i+1)
		}
	}
	if len(res.ChangedLines) == 0 {
		return res
	}

	res.Changed = true
	for _, line := range have {
		sigs := scan(line)
		for _, s := range sigs.Signals() {
			res.Signals.Add(s)
		}
	}
	return res
}

// splitLines splits on newlines, ignoring carriage returns, trailing
// whitespace on each line, and trailing blank lines.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// redirectsAway reports whether location points at a different host than pageURL.
func redirectsAway(pageURL, location string) bool {
	if location == "" {
		return false
	}
	page, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	loc, err := page.Parse(location)
	if err != nil {
		return true
	}
	return !strings.EqualFold(loc.Host, page.Host)
}

func digest(b []byte) string {
	sum := sha3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// isRedirect reports whether the status is an HTTP redirect.
func isRedirect(code int) bool {
	return code >= http.StatusMultipleChoices && code < http.StatusBadRequest
}
