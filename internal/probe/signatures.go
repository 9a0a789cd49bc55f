package probe

import (
	"regexp"

	"github.com/nao1215/proxyprobe/internal/model"
)

type signature struct {
	signal  model.Signal
	pattern *regexp.Regexp
}

// signatures is the battery of patterns applied to every line of a modified page.
var signatures = []signature{
	{model.SignalScript, regexp.MustCompile(`(?i)<script[^>]*>`)},
	{model.SignalScript, regexp.MustCompile(`(?i)(?:\beval|document\.write|\bsetTimeout|\bsetInterval)\s*\(`)},

	{model.SignalIframe, regexp.MustCompile(`(?i)<iframe[^>]*>`)},

	{model.SignalAd, regexp.MustCompile(`(?i)(?:class|id)\s*=\s*["'][^"']*(?:\bads?\b|banner|popup|interstitial|advert)[^"']*["']`)},
	{model.SignalAd, regexp.MustCompile(`(?i)adsbygoogle|pagead2?\.|/adserver/`)},

	{model.SignalTracker, regexp.MustCompile(`(?i)googlesyndication\.com|doubleclick\.net|google-analytics\.com|googletagmanager\.com|connect\.facebook\.net`)},

	{model.SignalMiner, regexp.MustCompile(`(?i)coinhive\.min\.js|coinhive\.com|coin-hive\.com|cryptoloot|webminepool|CoinHive\.Anonymous`)},

	{model.SignalRedirect, regexp.MustCompile(`(?i)<meta[^>]+http-equiv\s*=\s*["']?refresh`)},
	{model.SignalRedirect, regexp.MustCompile(`(?i)\b(?:window\.|document\.|top\.)?location(?:\.href)?\s*=[^=]`)},
	{model.SignalRedirect, regexp.MustCompile(`(?i)\blocation\.(?:replace|assign)\s*\(`)},

	{model.SignalEventHandler, regexp.MustCompile(`(?i)\s+on[a-z]+\s*=\s*["']?[^"'>]+`)},

	{model.SignalEncodedContent, regexp.MustCompile(`(?i)data:text/(?:html|javascript);base64,`)},
	{model.SignalEncodedContent, regexp.MustCompile(`(?i)\batob\s*\(|\bunescape\s*\(|(\\x[0-9a-f]{2}){10,}`)},
}

// ScanLine returns the suspicious signals present in one line of HTML.
func ScanLine(line string) model.SignalSet {
	var set model.SignalSet
	for _, sig := range signatures {
		if set.Has(sig.signal) {
			continue
		}
		if sig.pattern.MatchString(line) {
			set.Add(sig.signal)
		}
	}
	return set
}
