package extract

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"xwatch/internal/model"
	"xwatch/internal/util"
)

const (
	MinGenericRunes = 20
	MaxGenericRunes = 280
)

// chrome strings are navigation and interstitial labels, never post text.
var chrome = []string{
	"Search", "Sign up", "Log in", "Sign in", "Explore", "Settings",
	"Don’t miss what’s happening", "Don't miss what's happening",
	"People on X are the first to know.", "Terms of Service", "Privacy Policy",
	"Cookie Policy", "Accessibility", "Ads info", "Show more", "Trending now",
	"What’s happening", "Who to follow", "Something went wrong. Try reloading.",
}

var loginMarkers = []string{
	"Sign in to X", "Log in to X", "Sign in to Twitter", "Log in to Twitter",
	"Join X today", "Happening now",
}

// IsLoginWall reports whether the page is an authentication interstitial
// rather than search results.
func IsLoginWall(markup string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return false
	}
	if doc.Find(`article[data-testid="tweet"]`).Length() > 0 {
		return false
	}
	if doc.Find(`[data-testid="loginButton"], form[action*="login"], input[name="session[username_or_email]"]`).Length() > 0 {
		return true
	}
	title := doc.Find("title").First().Text()
	return util.ContainsAnyCaseInsensitive(title, loginMarkers) ||
		util.ContainsAnyCaseInsensitive(doc.Find("h1, h2").Text(), loginMarkers)
}

// StructuredPosts reads tweet articles with their data-testid markers.
func StructuredPosts(markup string) []model.Record {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	var out []model.Record
	doc.Find(`article[data-testid="tweet"]`).Each(func(_ int, art *goquery.Selection) {
		text := art.Find(`[data-testid="tweetText"]`).First().Text()
		author := ""
		art.Find(`[data-testid="User-Name"] a[href^="/"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			h := strings.Trim(href, "/")
			if h != "" && !strings.Contains(h, "/") {
				author = h
				return false
			}
			return true
		})
		link := ""
		var created time.Time
		tm := art.Find("time[datetime]").First()
		if dt, ok := tm.Attr("datetime"); ok {
			created, _ = time.Parse(time.RFC3339, dt)
		}
		if href, ok := tm.Parent().Attr("href"); ok && statusRe.MatchString(href) {
			link = canonicalLink(href)
		} else {
			art.Find(`a[href*="/status/"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
				href, _ := a.Attr("href")
				link = canonicalLink(href)
				return false
			})
		}
		eng := model.Engagement{
			Replies: counter(art, "reply"),
			Reposts: counter(art, "retweet"),
			Likes:   counter(art, "like"),
		}
		if rec, ok := newRecord(author, text, link, created, eng, model.SourcePrimary); ok {
			out = append(out, rec)
		}
	})
	return out
}

// counter prefers the visible number and falls back to the aria label
// ("12 Likes. Like").
func counter(art *goquery.Selection, testid string) int {
	btn := art.Find(`[data-testid="` + testid + `"]`).First()
	if btn.Length() == 0 {
		return 0
	}
	if n := util.ParseCount(btn.Text()); n > 0 {
		return n
	}
	label, _ := btn.Attr("aria-label")
	return util.ParseCount(label)
}

// GenericPosts collects text-bearing leaf elements of plausible post length.
// It is the last heuristic, used when the structured markers are gone.
func GenericPosts(markup string) []model.Record {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []model.Record
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Head, atom.Nav, atom.Footer, atom.Button:
				return
			}
			if isLeaf(n) {
				text := util.NormalizeWhitespace(textOf(n))
				l := utf8.RuneCountInString(text)
				if l >= MinGenericRunes && l <= MaxGenericRunes && !isChrome(text) && !seen[text] {
					seen[text] = true
					if rec, ok := newRecord("", text, "", time.Time{}, model.Engagement{}, model.SourcePrimary); ok {
						out = append(out, rec)
					}
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

// isLeaf: an element whose children are text or inline formatting only.
func isLeaf(n *html.Node) bool {
	hasText := false
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			if strings.TrimSpace(c.Data) != "" {
				hasText = true
			}
		case html.ElementNode:
			switch c.DataAtom {
			case atom.Span, atom.B, atom.I, atom.Em, atom.Strong, atom.Br, atom.A, atom.Img:
				if c.DataAtom == atom.Span && hasBlockChild(c) {
					return false
				}
				if strings.TrimSpace(textOf(c)) != "" {
					hasText = true
				}
			default:
				return false
			}
		}
	}
	return hasText
}

func hasBlockChild(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom != atom.Span && c.DataAtom != atom.A && c.DataAtom != atom.Br {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
			return
		case n.DataAtom == atom.Br:
			sb.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

func isChrome(text string) bool {
	if util.EqualsAnyCaseInsensitive(text, chrome) {
		return true
	}
	lt := strings.ToLower(text)
	for _, c := range chrome {
		if strings.HasPrefix(lt, strings.ToLower(c)+" ") {
			return true
		}
	}
	return false
}
