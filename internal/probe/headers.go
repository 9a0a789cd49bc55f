package probe

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/nao1215/proxyprobe/internal/model"
)

var defaultFlaggedHeaders = []string{
	"authentication",
	"client-ip",
	"x-client-ip",
	"from",
	"forwarded-for",
	"forwarded",
	"proxy-authorization",
	"proxy-connection",
	"remote-addr",
	"remote-port",
	"via",
	"x-cluster-client-ip",
	"x-forwarded-for",
	"x-forwarded-for-ip",
	"x-forwarded-proto",
	"x-forwarded",
	"x-forwarded-host",
	"x-proxy-id",
	"x-real-ip",
}

// DefaultFlaggedHeaders returns the headers that reveal a proxy or the client IP.
func DefaultFlaggedHeaders() []string {
	return append([]string(nil), defaultFlaggedHeaders...)
}

// NormalizeHeaderName maps the different spellings judges use for a header
// ("X-Forwarded-For", "x-forwarded-for", "HTTP_X_FORWARDED_FOR") to one
// canonical lowercase-dash form.
func NormalizeHeaderName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "_", "-")
	return strings.TrimPrefix(n, "http-")
}

// ParseJudgeHeaders decodes a judge response body into a header map keyed by
// normalized header name. Both a flat object of headers and an object with a
// nested "headers" object are accepted.
func ParseJudgeHeaders(body []byte) (map[string]string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: judge body is not a JSON object: %w", model.ErrMalformed, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: judge body is null", model.ErrMalformed)
	}
	if nested, ok := raw["headers"].(map[string]any); ok {
		raw = nested
	}

	headers := make(map[string]string, len(raw))
	for k, v := range raw {
		name := NormalizeHeaderName(k)
		switch val := v.(type) {
		case string:
			headers[name] = val
		case []any:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, fmt.Sprint(p))
			}
			headers[name] = strings.Join(parts, ", ")
		case nil:
			headers[name] = ""
		default:
			headers[name] = fmt.Sprint(val)
		}
	}
	return headers, nil
}

// ClassifyAnonymity decides the anonymity tier from the headers a judge saw.
//
// Zero flagged headers means elite. Flagged headers with none carrying
// publicIP means anonymous, and any flagged header carrying publicIP means
// transparent. With flagged headers present and an empty publicIP the tier is
// unknown.
func ClassifyAnonymity(headers map[string]string, publicIP string, flagged []string) *model.AnonymityResult {
	flaggedSet := make(map[string]bool, len(flagged))
	for _, f := range flagged {
		flaggedSet[NormalizeHeaderName(f)] = true
	}

	res := &model.AnonymityResult{FlaggedHeaders: []string{}}
	for name, value := range headers {
		name = NormalizeHeaderName(name)
		if !flaggedSet[name] {
			continue
		}
		res.FlaggedHeaders = append(res.FlaggedHeaders, name)
		if publicIP != "" && containsIP(value, publicIP) {
			res.LeakingHeaders = append(res.LeakingHeaders, name)
		}
	}
	sort.Strings(res.FlaggedHeaders)
	sort.Strings(res.LeakingHeaders)

	switch {
	case len(res.FlaggedHeaders) == 0:
		res.Anonymity = model.AnonymityElite
	case len(res.LeakingHeaders) > 0:
		res.Anonymity = model.AnonymityTransparent
	case publicIP == "":
		res.Anonymity = model.AnonymityUnknown
	default:
		res.Anonymity = model.AnonymityAnonymous
	}
	return res
}

// containsIP reports whether a header value mentions ip as one of its tokens.
// Values such as `for="1.2.3.4:5678", for=10.0.0.1` or `1.1 1.2.3.4 (squid)`
// are split on separators; quotes, brackets and ports are stripped.
func containsIP(value, ip string) bool {
	want := net.ParseIP(ip)
	if want == nil {
		return strings.Contains(value, ip)
	}

	tokens := strings.FieldsFunc(value, func(r rune) bool {
		switch r {
		case ',', ';', '=', ' ', '\t', '(', ')':
			return true
		}
		return false
	})
	for _, tok := range tokens {
		tok = strings.Trim(tok, `"'`)
		if host, _, err := net.SplitHostPort(tok); err == nil {
			tok = host
		}
		tok = strings.Trim(tok, "[]")
		if got := net.ParseIP(tok); got != nil && got.Equal(want) {
			return true
		}
	}
	return false
}
