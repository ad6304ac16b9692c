package fetch

import (
	"context"

	"xwatch/internal/extract"
	"xwatch/internal/logging"
	"xwatch/internal/model"
	"xwatch/internal/query"
	"xwatch/internal/xclient"
)

// ProxyStrategy searches a mirror front-end with the simplified query,
// falling back to the mirror's RSS rendition when the markup yields nothing.
type ProxyStrategy struct {
	Client   xclient.Searcher
	RSS      bool
	MaxTerms int
}

func (p *ProxyStrategy) Name() string { return "proxy" }

func (p *ProxyStrategy) Attempt(ctx context.Context, q string) Outcome {
	sq := query.Simplify(q, p.MaxTerms)
	if sq == "" {
		return empty(nil)
	}
	markup, err := p.Client.SearchHTML(ctx, sq)
	var recs []model.Record
	if err == nil {
		recs = extract.ProxyTimeline(markup)
	} else {
		logging.Warn("proxy_search_failed", map[string]any{"query": sq, "error": err})
	}
	if len(recs) == 0 && p.RSS {
		data, rerr := p.Client.SearchRSS(ctx, sq)
		if rerr == nil {
			recs, rerr = extract.ProxyFeed(data)
		}
		if rerr != nil {
			logging.Warn("proxy_rss_failed", map[string]any{"query": sq, "error": rerr})
			if err == nil {
				err = rerr
			}
		}
	}
	if len(recs) == 0 {
		return empty(err)
	}
	return found(recs)
}
