package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"xwatch/internal/jobs"
)

func TestNextWindow(t *testing.T) {
	now := time.Date(2026, 10, 16, 1, 30, 0, 0, time.UTC)
	if got := NextWindow(now, nil); !got.Equal(now) {
		t.Fatalf("no quiet hours: %v", got)
	}
	got := NextWindow(now, []int{0, 1, 2, 3})
	want := time.Date(2026, 10, 16, 4, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	all := make([]int, 24)
	for i := range all {
		all[i] = i
	}
	if got := NextWindow(now, all); !got.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("all quiet: %v", got)
	}
}

type countRunner struct {
	n      int32
	cancel context.CancelFunc
	stopAt int32
}

func (c *countRunner) Run(context.Context) (jobs.Summary, error) {
	if atomic.AddInt32(&c.n, 1) >= c.stopAt {
		c.cancel()
	}
	return jobs.Summary{}, errors.New("flaky")
}

func TestSchedulerRunsEagerlyAndOnInterval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := &countRunner{cancel: cancel, stopAt: 3}
	s := &Scheduler{Runner: r, Interval: 5 * time.Millisecond}
	if err := s.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&r.n) < 3 {
		t.Fatalf("expected at least 3 runs, got %d", r.n)
	}
}

func TestSchedulerSkipsQuietHours(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	r := &countRunner{cancel: cancel, stopAt: 100}
	quiet := time.Date(2026, 10, 16, 3, 0, 0, 0, time.UTC)
	s := &Scheduler{Runner: r, Interval: 5 * time.Millisecond, QuietHours: []int{3}, Location: time.UTC,
		nowFn: func() time.Time { return quiet }}
	_ = s.Run(ctx)
	if atomic.LoadInt32(&r.n) != 0 {
		t.Fatalf("no runs expected in quiet hours, got %d", r.n)
	}
}

type pruneLog struct {
	befores []time.Time
}

func (p *pruneLog) Prune(_ context.Context, before time.Time) (int64, error) {
	p.befores = append(p.befores, before)
	return 2, nil
}

func TestSchedulerAppliesRetentionAfterRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	pl := &pruneLog{}
	s := &Scheduler{Runner: &countRunner{cancel: func() {}, stopAt: 100}, Retention: 7 * 24 * time.Hour, Store: pl,
		Location: time.UTC, nowFn: func() time.Time { return now }}
	s.tick(ctx)
	if len(pl.befores) != 1 || !pl.befores[0].Equal(now.Add(-7*24*time.Hour)) {
		t.Fatalf("unexpected prune calls %v", pl.befores)
	}

	s.Retention = 0
	s.tick(ctx)
	if len(pl.befores) != 1 {
		t.Fatal("retention disabled must not prune")
	}
}
