package extract

import (
	"strings"
	"testing"

	"xwatch/internal/model"
)

const proxyPage = `<html><body><div class="timeline">
<div class="timeline-item">
  <a class="tweet-link" href="/podhaxyz/status/1780000000000000001#m"></a>
  <div class="tweet-header"><a class="username" href="/podhaxyz">@podhaxyz</a>
    <span class="tweet-date"><a href="/podhaxyz/status/1780000000000000001#m" title="Apr 16, 2024 · 9:30 AM UTC">2h</a></span></div>
  <div class="tweet-content media-body">Podha   vaults now pay
  RWA yield to verified holders</div>
  <div class="tweet-stats">
    <span class="tweet-stat"><div class="icon-container"><span class="icon-comment"></span> 4</div></span>
    <span class="tweet-stat"><div class="icon-container"><span class="icon-retweet"></span> 1.2K</div></span>
    <span class="tweet-stat"><div class="icon-container"><span class="icon-heart"></span> 31</div></span>
  </div>
</div>
<div class="timeline-item">
  <a class="username">@empty</a>
  <div class="tweet-content"></div>
</div>
</div></body></html>`

func TestProxyTimeline(t *testing.T) {
	recs := ProxyTimeline(proxyPage)
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	r := recs[0]
	if r.ID != "1780000000000000001" {
		t.Fatalf("id from status link, got %q", r.ID)
	}
	if r.Author != "podhaxyz" || r.Text != "Podha vaults now pay RWA yield to verified holders" {
		t.Fatalf("bad record: %+v", r)
	}
	if r.URL != "https://x.com/podhaxyz/status/1780000000000000001" {
		t.Fatalf("bad url %q", r.URL)
	}
	if r.Engagement != (model.Engagement{Likes: 31, Reposts: 1200, Replies: 4}) {
		t.Fatalf("bad engagement %+v", r.Engagement)
	}
	if r.CreatedAt.IsZero() || r.CreatedAt.Year() != 2024 {
		t.Fatalf("date not parsed: %v", r.CreatedAt)
	}
	if r.Source != model.SourceSecondary {
		t.Fatalf("source %q", r.Source)
	}
}

const feed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/">
<channel><title>Search</title>
<item>
  <title>Podha RWA yield is live</title>
  <dc:creator>@podhaxyz</dc:creator>
  <description><![CDATA[<p>Podha <b>RWA</b> yield is live</p>]]></description>
  <pubDate>Tue, 16 Apr 2024 09:30:00 GMT</pubDate>
  <link>https://nitter.example/podhaxyz/status/1780000000000000002#m</link>
</item>
</channel></rss>`

func TestProxyFeed(t *testing.T) {
	recs, err := ProxyFeed([]byte(feed))
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1, got %d", len(recs))
	}
	r := recs[0]
	if r.ID != "1780000000000000002" || r.Author != "podhaxyz" || r.Text != "Podha RWA yield is live" {
		t.Fatalf("bad record %+v", r)
	}
	if r.URL != "https://x.com/podhaxyz/status/1780000000000000002" {
		t.Fatalf("bad url %q", r.URL)
	}
	if _, err := ProxyFeed([]byte("not a feed")); err == nil {
		t.Fatal("expected parse error")
	}
}

const structuredPage = `<html><body><main>
<article data-testid="tweet">
  <div data-testid="User-Name"><a href="/alice"><span>Alice</span></a><a href="/alice/status/111"><time datetime="2024-04-16T09:30:00.000Z">2h</time></a></div>
  <div data-testid="tweetText"><span>Tokenized treasuries </span><span>are eating DeFi</span></div>
  <div role="group">
    <button data-testid="reply" aria-label="3 Replies. Reply"></button>
    <button data-testid="retweet"><span>7</span></button>
    <button data-testid="like" aria-label="12 Likes. Like"></button>
  </div>
</article>
</main></body></html>`

func TestStructuredPosts(t *testing.T) {
	recs := StructuredPosts(structuredPage)
	if len(recs) != 1 {
		t.Fatalf("expected 1, got %d", len(recs))
	}
	r := recs[0]
	if r.ID != "111" || r.Author != "alice" || r.Text != "Tokenized treasuries are eating DeFi" {
		t.Fatalf("bad record %+v", r)
	}
	if r.Engagement != (model.Engagement{Likes: 12, Reposts: 7, Replies: 3}) {
		t.Fatalf("bad engagement %+v", r.Engagement)
	}
	if r.Source != model.SourcePrimary || r.CreatedAt.IsZero() {
		t.Fatalf("bad source/time %+v", r)
	}
}

func TestGenericPostsFiltersChromeAndLength(t *testing.T) {
	page := `<html><head><title>x</title><script>var a = "this script text is long enough to count";</script></head><body>
<nav><span>Explore the timeline and everything else here</span></nav>
<div>Search</div>
<div>Sign up</div>
<div>too short</div>
<div>Podha is bringing <b>real world assets</b> onchain this week</div>
<div>Podha is bringing <b>real world assets</b> onchain this week</div>
<div>` + strings.Repeat("a", 300) + `</div>
</body></html>`
	recs := GenericPosts(page)
	if len(recs) != 1 {
		t.Fatalf("expected 1 generic post, got %d: %+v", len(recs), recs)
	}
	if recs[0].Text != "Podha is bringing real world assets onchain this week" {
		t.Fatalf("unexpected text %q", recs[0].Text)
	}
	if !strings.HasPrefix(recs[0].ID, "h-") || recs[0].Author != "unknown" {
		t.Fatalf("expected hashed id and unknown author: %+v", recs[0])
	}
}

func TestIsLoginWall(t *testing.T) {
	wall := `<html><head><title>Log in to X / X</title></head><body><div data-testid="loginButton">Log in</div></body></html>`
	if !IsLoginWall(wall) {
		t.Fatal("expected login wall")
	}
	if IsLoginWall(structuredPage) {
		t.Fatal("results page is not a login wall")
	}
	if IsLoginWall(`<html><body><p>nothing here</p></body></html>`) {
		t.Fatal("plain page is not a login wall")
	}
}

func TestRecordIDFallsBackToHash(t *testing.T) {
	a := RecordID("", "alice", "hello")
	if a != RecordID("https://x.com/search", "Alice", "hello") {
		t.Fatal("hash id should ignore non-status links and author case")
	}
}
