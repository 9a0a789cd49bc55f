package probe

import (
	"context"
	"net/http"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
)

// Anonymity fetches the judge through the proxy and classifies which
// identifying headers reached it. target.PublicIP must already be resolved;
// when it is empty a proxy that sends flagged headers is reported as unknown.
func (p *Prober) Anonymity(ctx context.Context, target model.ProbeTarget) (*model.AnonymityResult, error) {
	if p.env.JudgeURL == "" {
		return nil, model.ErrNotConfigured
	}

	start := time.Now()
	resp, body, err := p.get(ctx, target, p.env.JudgeURL, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &model.StatusError{Code: resp.StatusCode, URL: p.env.JudgeURL}
	}

	headers, err := ParseJudgeHeaders(body)
	if err != nil {
		return nil, err
	}

	res := ClassifyAnonymity(headers, target.PublicIP, p.env.FlaggedHeaders)
	res.JudgeResponseMillis = time.Since(start).Milliseconds()

	p.logger.Debug("anonymity probe finished",
		"proxy", target.Address(),
		"anonymity", res.Anonymity.String(),
		"flagged", len(res.FlaggedHeaders))
	return res, nil
}
