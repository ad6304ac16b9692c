package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"xwatch/internal/model"
)

var sample = model.Record{
	ID:         "123",
	Author:     "podha_xyz",
	Text:       "Podha RWA *yield* is live",
	URL:        "https://x.com/podha_xyz/status/123",
	CreatedAt:  time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	Engagement: model.Engagement{Likes: 4, Reposts: 2, Replies: 1},
	Source:     model.SourcePrimary,
	Query:      "Podha",
}

func fastPoster(c *http.Client) poster {
	return poster{client: c, maxAttempts: 3, backoff: time.Millisecond}
}

func TestWebhookSignsAndDelivers(t *testing.T) {
	var gotSig string
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	wh := &Webhook{URL: ts.URL, Secret: "s3cret", poster: fastPoster(ts.Client())}
	rec, err := wh.Notify(context.Background(), sample)
	if err != nil || !rec.OK {
		t.Fatalf("expected ok receipt, got %+v %v", rec, err)
	}
	if gotSig != "sha256="+Sign("s3cret", gotBody) {
		t.Fatalf("signature mismatch: %s", gotSig)
	}
	var p webhookPayload
	if err := json.Unmarshal(gotBody, &p); err != nil {
		t.Fatal(err)
	}
	if p.Record.ID != "123" || !strings.Contains(p.Text, "@podha_xyz") || p.Content != p.Text {
		t.Fatalf("bad payload %+v", p)
	}
}

func TestWebhookSoftFailOn4xx(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "invalid_payload", http.StatusBadRequest)
	}))
	defer ts.Close()

	wh := &Webhook{URL: ts.URL, poster: fastPoster(ts.Client())}
	rec, err := wh.Notify(context.Background(), sample)
	if err != nil {
		t.Fatalf("4xx is not a hard error: %v", err)
	}
	if rec.OK || rec.Status != http.StatusBadRequest || !strings.Contains(rec.Detail, "invalid_payload") {
		t.Fatalf("unexpected receipt %+v", rec)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatal("4xx must not be retried")
	}
}

func TestWebhookHardErrorAfterRetries(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	wh := &Webhook{URL: ts.URL, poster: fastPoster(ts.Client())}
	_, err := wh.Notify(context.Background(), sample)
	if err == nil {
		t.Fatal("expected error after retries")
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func telegramServer(t *testing.T, sendStatus func(n int) (int, string)) (*httptest.Server, *int32) {
	var sends int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"xwatch","username":"xwatch_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			if r.PostForm.Get("chat_id") != "42" || r.PostForm.Get("parse_mode") != "Markdown" {
				t.Errorf("bad form %v", r.PostForm)
			}
			n := int(atomic.AddInt32(&sends, 1))
			code, body := sendStatus(n)
			w.WriteHeader(code)
			_, _ = io.WriteString(w, body)
		default:
			http.NotFound(w, r)
		}
	}))
	return ts, &sends
}

func newTestTelegram(t *testing.T, ts *httptest.Server) *Telegram {
	t.Helper()
	tg, err := NewTelegram("TOKEN", "42", ts.URL+"/bot%s/%s", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	tg.backoff = time.Millisecond
	return tg
}

func TestTelegramDelivers(t *testing.T) {
	ts, sends := telegramServer(t, func(int) (int, string) {
		return http.StatusOK, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`
	})
	defer ts.Close()
	tg := newTestTelegram(t, ts)
	rec, err := tg.Notify(context.Background(), sample)
	if err != nil || !rec.OK {
		t.Fatalf("expected delivery, got %+v %v", rec, err)
	}
	if atomic.LoadInt32(sends) != 1 {
		t.Fatalf("sends=%d", *sends)
	}
}

func TestTelegramSoftFailAndRetry(t *testing.T) {
	ts, _ := telegramServer(t, func(int) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`
	})
	defer ts.Close()
	rec, err := newTestTelegram(t, ts).Notify(context.Background(), sample)
	if err != nil || rec.OK || rec.Status != 400 {
		t.Fatalf("expected soft fail, got %+v %v", rec, err)
	}

	ts2, sends := telegramServer(t, func(n int) (int, string) {
		if n == 1 {
			return http.StatusInternalServerError, `{"ok":false,"error_code":500,"description":"Internal"}`
		}
		return http.StatusOK, `{"ok":true,"result":{"message_id":8,"date":0,"chat":{"id":42,"type":"private"}}}`
	})
	defer ts2.Close()
	rec, err = newTestTelegram(t, ts2).Notify(context.Background(), sample)
	if err != nil || !rec.OK || atomic.LoadInt32(sends) != 2 {
		t.Fatalf("expected success on retry, got %+v %v sends=%d", rec, err, *sends)
	}
}

func TestFormatMarkdownEscapes(t *testing.T) {
	s := sample
	s.Source = model.SourceSynthetic
	out := FormatMarkdown(s)
	if !strings.Contains(out, `Podha RWA \*yield\* is live`) || !strings.Contains(out, `podha\_xyz`) {
		t.Fatalf("markdown not escaped: %s", out)
	}
	if !strings.Contains(out, "synthetic") {
		t.Fatal("synthetic records must be marked")
	}
}

func TestFormatMarkdownNoBareEntityChars(t *testing.T) {
	out := FormatMarkdown(sample)
	if !strings.Contains(out, "[open post]("+sample.URL+")") {
		t.Fatalf("link not rendered inline: %s", out)
	}
	for _, line := range strings.Split(out, "\n") {
		// drop the link target, Telegram does not parse entities inside it
		if i := strings.Index(line, "]("); i >= 0 {
			line = line[:i+1]
		}
		for i := 0; i < len(line); i++ {
			if line[i] == '_' && (i == 0 || line[i-1] != '\\') {
				t.Fatalf("unescaped underscore in %q", line)
			}
		}
	}
}

func TestSheetsAppendsRow(t *testing.T) {
	var path, query string
	var body map[string][][]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.RawQuery
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = io.WriteString(w, `{"updates":{"updatedRows":1}}`)
	}))
	defer ts.Close()

	s := &Sheets{SpreadsheetID: "sheet-1", Range: "Sheet1!A1", baseURL: ts.URL, poster: fastPoster(ts.Client())}
	if err := s.Log(context.Background(), sample); err != nil {
		t.Fatal(err)
	}
	if path != "/sheet-1/values/Sheet1!A1:append" || !strings.Contains(query, "valueInputOption=RAW") {
		t.Fatalf("bad request %s?%s", path, query)
	}
	row := body["values"][0]
	if len(row) != len(Row(sample)) || row[1] != "123" || row[8] != "primary-live" {
		t.Fatalf("bad row %v", row)
	}
}

func TestNewSheetsRejectsBadCredentials(t *testing.T) {
	if _, err := NewSheets(context.Background(), `{"type":"nope"}`, "id", "", time.Second); err == nil {
		t.Fatal("expected credentials error")
	}
}

func TestNotionCreatesPage(t *testing.T) {
	var auth, version string
	var payload struct {
		Parent     map[string]string         `json:"parent"`
		Properties map[string]map[string]any `json:"properties"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		version = r.Header.Get("Notion-Version")
		_ = json.NewDecoder(r.Body).Decode(&payload)
		_, _ = io.WriteString(w, `{"object":"page","id":"p1"}`)
	}))
	defer ts.Close()

	n := &Notion{Token: "secret_x", DatabaseID: "db1", baseURL: ts.URL, poster: fastPoster(ts.Client())}
	if err := n.Log(context.Background(), sample); err != nil {
		t.Fatal(err)
	}
	if auth != "Bearer secret_x" || version != notionVersion || payload.Parent["database_id"] != "db1" {
		t.Fatalf("bad request auth=%s version=%s parent=%v", auth, version, payload.Parent)
	}
	if payload.Properties["URL"]["url"] != sample.URL {
		t.Fatalf("url property missing: %v", payload.Properties["URL"])
	}
}

func TestNotionErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"validation_error"}`, http.StatusBadRequest)
	}))
	defer ts.Close()
	n := &Notion{Token: "x", DatabaseID: "db1", baseURL: ts.URL, poster: fastPoster(ts.Client())}
	if err := n.Log(context.Background(), sample); err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status error, got %v", err)
	}
}

type fakeLogger struct {
	err   error
	panic bool
	calls int
}

func (f *fakeLogger) Name() string { return "sheets" }
func (f *fakeLogger) Log(context.Context, model.Record) error {
	f.calls++
	if f.panic {
		panic("boom")
	}
	return f.err
}

type recordingWaiter struct{ dests []string }

func (w *recordingWaiter) Wait(_ context.Context, dest, _ string) error {
	w.dests = append(w.dests, dest)
	return nil
}

func TestBestEffortNeverPropagates(t *testing.T) {
	w := &recordingWaiter{}
	ok := BestEffort{Logger: &fakeLogger{}, Limiter: w}.Log(context.Background(), sample)
	if !ok || len(w.dests) != 1 || w.dests[0] != "sheets" {
		t.Fatalf("expected logged with one wait on sheets: ok=%v dests=%v", ok, w.dests)
	}
	if (BestEffort{Logger: &fakeLogger{err: errors.New("quota")}}).Log(context.Background(), sample) {
		t.Fatal("error should report false")
	}
	if (BestEffort{Logger: &fakeLogger{panic: true}}).Log(context.Background(), sample) {
		t.Fatal("panic should report false")
	}
	fl := &fakeLogger{}
	syn := sample
	syn.Source = model.SourceSynthetic
	if (BestEffort{Logger: fl}).Log(context.Background(), syn) || fl.calls != 0 {
		t.Fatal("synthetic records must be skipped")
	}
}
