package extract

import (
	"bytes"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"xwatch/internal/model"
	"xwatch/internal/util"
)

var proxyDateLayouts = []string{
	"Jan 2, 2006 · 3:04 PM MST",
	"Jan 2, 2006 · 15:04 MST",
	time.RFC1123Z,
	time.RFC3339,
}

// ProxyTimeline parses a mirror front-end search page: a list of repeating
// .timeline-item blocks.
func ProxyTimeline(markup string) []model.Record {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	var out []model.Record
	doc.Find(".timeline-item").Each(func(_ int, item *goquery.Selection) {
		text := item.Find(".tweet-content").First().Text()
		author := item.Find(".username").First().Text()
		href, _ := item.Find("a.tweet-link").First().Attr("href")
		if href == "" {
			href, _ = item.Find(".tweet-date a").First().Attr("href")
		}
		var eng model.Engagement
		item.Find(".tweet-stat").Each(func(_ int, st *goquery.Selection) {
			n := util.ParseCount(st.Text())
			switch {
			case st.Find(".icon-comment").Length() > 0:
				eng.Replies = n
			case st.Find(".icon-retweet").Length() > 0:
				eng.Reposts = n
			case st.Find(".icon-heart").Length() > 0:
				eng.Likes = n
			}
		})
		title, _ := item.Find(".tweet-date a").First().Attr("title")
		if rec, ok := newRecord(author, text, canonicalLink(href), parseDate(title), eng, model.SourceSecondary); ok {
			out = append(out, rec)
		}
	})
	return out
}

// ProxyFeed parses the mirror's RSS rendition of the same search.
func ProxyFeed(data []byte) ([]model.Record, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var out []model.Record
	for _, it := range feed.Items {
		text := it.Title
		if it.Description != "" {
			text = stripTags(it.Description)
		}
		author := ""
		if it.DublinCoreExt != nil && len(it.DublinCoreExt.Creator) > 0 {
			author = it.DublinCoreExt.Creator[0]
		} else if len(it.Authors) > 0 && it.Authors[0] != nil {
			author = it.Authors[0].Name
		}
		var created time.Time
		if it.PublishedParsed != nil {
			created = *it.PublishedParsed
		}
		if rec, ok := newRecord(author, text, canonicalLink(it.Link), created, model.Engagement{}, model.SourceSecondary); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func stripTags(s string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range proxyDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
