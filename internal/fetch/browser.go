package fetch

import (
	"context"
	"errors"
	"net/url"

	"xwatch/internal/browser"
	"xwatch/internal/extract"
	"xwatch/internal/logging"
)

// SearchURL is the live search page rendered by the browser strategy.
const SearchURL = "https://x.com/search"

// Renderer returns the DOM of a rendered page.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// BrowserStrategy renders the live search page and runs the page
// heuristics in order: structured markers, then generic leaf text.
type BrowserStrategy struct {
	Renderer Renderer
}

func (b *BrowserStrategy) Name() string { return "browser" }

func (b *BrowserStrategy) Attempt(ctx context.Context, q string) Outcome {
	u := SearchURL + "?q=" + url.QueryEscape(q) + "&src=typed_query&f=live"
	markup, err := b.Renderer.Render(ctx, u)
	if err != nil {
		if errors.Is(err, browser.ErrLaunch) {
			return unavailable(err)
		}
		return empty(err)
	}
	if extract.IsLoginWall(markup) {
		logging.Info("browser_login_wall", map[string]any{"query": q})
		return empty(nil)
	}
	if recs := extract.StructuredPosts(markup); len(recs) > 0 {
		return found(recs)
	}
	if recs := extract.GenericPosts(markup); len(recs) > 0 {
		return found(recs)
	}
	return empty(nil)
}
