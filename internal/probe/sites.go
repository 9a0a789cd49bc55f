package probe

import (
	"context"
	"net/http"
	"time"

	"github.com/nao1215/proxyprobe/internal/model"
	"golang.org/x/sync/errgroup"
)

// Sites fetches every configured site through the proxy concurrently.
// A site is reachable when it answers 200. Individual site failures are
// recorded in the result; only the end of ctx fails the whole probe.
func (p *Prober) Sites(ctx context.Context, target model.ProbeTarget) (*model.SitesResult, error) {
	if len(p.env.Sites) == 0 {
		return nil, model.ErrNotConfigured
	}

	statuses := make([]model.SiteStatus, len(p.env.Sites))
	var g errgroup.Group
	for i, site := range p.env.Sites {
		g.Go(func() error {
			start := time.Now()
			st := model.SiteStatus{URL: site}
			resp, _, err := p.get(ctx, target, site, true)
			st.ResponseMillis = time.Since(start).Milliseconds()
			if err != nil {
				st.Error = err.Error()
			} else {
				st.StatusCode = resp.StatusCode
				st.Reachable = resp.StatusCode == http.StatusOK
			}
			statuses[i] = st
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &model.SitesResult{Sites: statuses}, nil
}
