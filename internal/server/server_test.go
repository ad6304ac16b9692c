package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"xwatch/internal/jobs"
	"xwatch/internal/model"
	"xwatch/internal/ratelimit"
	"xwatch/internal/store/sqlitestore"
)

type fakeRunner struct {
	running atomic.Bool
	runs    atomic.Int32
	err     error
	last    *jobs.Summary
}

func (f *fakeRunner) Run(context.Context) (jobs.Summary, error) {
	f.runs.Add(1)
	s := jobs.Summary{RunID: "r1", Delivered: 2}
	f.last = &s
	return s, f.err
}
func (f *fakeRunner) Running() bool { return f.running.Load() }
func (f *fakeRunner) Last() (jobs.Summary, bool) {
	if f.last == nil {
		return jobs.Summary{}, false
	}
	return *f.last, true
}

func newTestServer(t *testing.T, r Runner) *Server {
	t.Helper()
	db, err := sqlitestore.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.MarkDelivered(context.Background(), "t1", model.Record{ID: "t1", Source: model.SourcePrimary}); err != nil {
		t.Fatal(err)
	}
	lim := ratelimit.New(map[string]ratelimit.Limit{"notification": {Ceiling: 20, Window: time.Minute}})
	lim.Check("notification", "")
	return New(context.Background(), r, db, lim)
}

func do(s *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, &fakeRunner{})
	if rec := do(s, http.MethodGet, "/health"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("health: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(s, http.MethodGet, "/metrics"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "xwatch_") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	r := &fakeRunner{}
	s := newTestServer(t, r)
	_, _ = r.Run(context.Background())
	rec := do(s, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code %d", rec.Code)
	}
	var body statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Store == nil || body.Store.DeliveredTotal != 1 || body.LastRun == nil || body.LastRun.RunID != "r1" {
		t.Fatalf("unexpected status %+v", body)
	}
	if len(body.RateLimits) != 1 || body.RateLimits[0].Used != 1 || body.RateLimits[0].Ceiling != 20 {
		t.Fatalf("unexpected limits %+v", body.RateLimits)
	}
}

func TestRunTrigger(t *testing.T) {
	r := &fakeRunner{}
	s := newTestServer(t, r)
	rec := do(s, http.MethodPost, "/run?wait=1")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"delivered":2`) {
		t.Fatalf("sync run: %d %s", rec.Code, rec.Body.String())
	}

	r.running.Store(true)
	if rec := do(s, http.MethodPost, "/run"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while running, got %d", rec.Code)
	}
	r.running.Store(false)

	r.err = errors.New("fetch failed")
	if rec := do(s, http.MethodPost, "/run?wait=1"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec := do(s, http.MethodGet, "/run"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /run should be rejected, got %d", rec.Code)
	}
}

type blockingRunner struct {
	fakeRunner
	release chan struct{}
	done    atomic.Bool
}

func (b *blockingRunner) Run(ctx context.Context) (jobs.Summary, error) {
	<-b.release
	b.done.Store(true)
	return jobs.Summary{}, nil
}

func TestWaitJoinsBackgroundRuns(t *testing.T) {
	r := &blockingRunner{release: make(chan struct{})}
	s := newTestServer(t, r)
	if rec := do(s, http.MethodPost, "/run"); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		close(r.release)
	}()
	s.Wait()
	if !r.done.Load() {
		t.Fatal("Wait returned before the run finished")
	}
}
