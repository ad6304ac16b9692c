// Package extract turns rendered search pages and feeds into records.
// Every heuristic is best-effort: markup changes make it return fewer
// items, never an error.
package extract

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"xwatch/internal/model"
	"xwatch/internal/util"
)

// SiteBase is used to absolutize relative status links.
const SiteBase = "https://x.com"

var statusRe = regexp.MustCompile(`/status(?:es)?/(\d+)`)

// RecordID derives a stable identifier: the status id from the link when
// present, else a hash of author and text.
func RecordID(link, author, text string) string {
	if m := statusRe.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	return "h-" + util.ShortHash(16, strings.ToLower(author), text)
}

func newRecord(author, text, link string, created time.Time, eng model.Engagement, src model.Source) (model.Record, bool) {
	text = model.CapText(util.NormalizeWhitespace(text))
	if text == "" {
		return model.Record{}, false
	}
	author = strings.TrimPrefix(strings.TrimSpace(author), "@")
	if author == "" {
		author = "unknown"
	}
	return model.Record{
		ID:         RecordID(link, author, text),
		Author:     author,
		Text:       text,
		URL:        link,
		CreatedAt:  created,
		Engagement: clampEngagement(eng),
		Source:     src,
	}, true
}

func clampEngagement(e model.Engagement) model.Engagement {
	if e.Likes < 0 { e.Likes = 0 }
	if e.Reposts < 0 { e.Reposts = 0 }
	if e.Replies < 0 { e.Replies = 0 }
	return e
}

// canonicalLink rewrites mirror or relative status links to the site itself
// and strips fragments.
func canonicalLink(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	u.Fragment = ""
	u.RawQuery = ""
	return SiteBase + u.Path
}
