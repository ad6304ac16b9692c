// Package ratelimit keeps per-destination request windows.
//
// Each (destination, identifier) key holds the timestamps of its recent
// requests. A destination is configured with a ceiling and a window; a check
// prunes timestamps older than the window and refuses once the ceiling is
// reached. Expired keys are dropped by Cleanup, which StartCleanup runs on a
// ticker.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"xwatch/internal/logging"
	"xwatch/internal/metrics"
)

// DefaultIdentifier is used when callers pass an empty identifier.
const DefaultIdentifier = "default"

// Limit is the ceiling for one destination.
type Limit struct {
	Ceiling int
	Window  time.Duration
}

// Status is a read-only snapshot of a destination's usage.
type Status struct {
	Destination string        `json:"destination"`
	Used        int           `json:"used"`
	Ceiling     int           `json:"ceiling"`
	Window      time.Duration `json:"window"`
	Configured  bool          `json:"configured"`
}

type key struct {
	dest string
	id   string
}

// Limiter tracks request timestamps per destination and identifier.
type Limiter struct {
	mu     sync.Mutex
	limits map[string]Limit
	hits   map[key][]time.Time
	warned map[string]bool

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

// New creates a Limiter for the given destinations.
func New(limits map[string]Limit) *Limiter {
	l := &Limiter{
		limits:  make(map[string]Limit, len(limits)),
		hits:    make(map[key][]time.Time),
		warned:  make(map[string]bool),
		nowFn:   time.Now,
		sleepFn: sleepCtx,
	}
	for dest, lim := range limits {
		l.limits[dest] = lim
	}
	return l
}

// Check records a request for dest/id and returns true if it fits in the
// window. When the ceiling is reached it returns false and records nothing.
// Unconfigured destinations always pass.
func (l *Limiter) Check(dest, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limitLocked(dest)
	if !ok {
		return true
	}
	k := key{dest, normID(id)}
	now := l.nowFn()
	ts := l.pruneLocked(k, lim, now)
	if len(ts) >= lim.Ceiling {
		return false
	}
	l.hits[k] = append(ts, now)
	return true
}

// Wait blocks until dest/id has capacity, then records the request. The wait
// is computed once from the oldest timestamp in the window; Wait does not
// re-check after waking.
func (l *Limiter) Wait(ctx context.Context, dest, id string) error {
	l.mu.Lock()
	lim, ok := l.limitLocked(dest)
	if !ok {
		l.mu.Unlock()
		return nil
	}
	k := key{dest, normID(id)}
	now := l.nowFn()
	ts := l.pruneLocked(k, lim, now)
	var wait time.Duration
	if len(ts) >= lim.Ceiling && len(ts) > 0 {
		wait = ts[0].Add(lim.Window).Sub(now)
	}
	if wait <= 0 {
		l.hits[k] = append(ts, now)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	logging.Debug("ratelimit_wait", map[string]any{"destination": dest, "identifier": k.id, "wait_ms": wait.Milliseconds()})
	metrics.ObserveRateLimitWait(dest, wait)
	if err := l.sleepFn(ctx, wait); err != nil {
		return err
	}

	l.mu.Lock()
	l.hits[k] = append(l.hits[k], l.nowFn())
	l.mu.Unlock()
	return nil
}

// Status returns the usage of dest summed over its identifiers.
func (l *Limiter) Status(dest string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limits[dest]
	st := Status{Destination: dest, Ceiling: lim.Ceiling, Window: lim.Window, Configured: ok}
	if !ok {
		return st
	}
	cutoff := l.nowFn().Add(-lim.Window)
	for k, ts := range l.hits {
		if k.dest != dest {
			continue
		}
		for _, t := range ts {
			if t.After(cutoff) {
				st.Used++
			}
		}
	}
	return st
}

// Destinations lists configured destination names.
func (l *Limiter) Destinations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.limits))
	for d := range l.limits {
		out = append(out, d)
	}
	return out
}

// Cleanup prunes every key and drops the ones left empty. It returns the
// number of dropped keys.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	dropped := 0
	for k := range l.hits {
		lim, ok := l.limits[k.dest]
		if !ok {
			delete(l.hits, k)
			dropped++
			continue
		}
		if ts := l.pruneLocked(k, lim, now); len(ts) == 0 {
			delete(l.hits, k)
			dropped++
		}
	}
	return dropped
}

// StartCleanup runs Cleanup every interval until ctx is done.
func (l *Limiter) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := l.Cleanup(); n > 0 {
					logging.Debug("ratelimit_cleanup", map[string]any{"dropped": n})
				}
			}
		}
	}()
}

func (l *Limiter) limitLocked(dest string) (Limit, bool) {
	lim, ok := l.limits[dest]
	if !ok || lim.Ceiling <= 0 {
		if !l.warned[dest] {
			l.warned[dest] = true
			logging.Warn("ratelimit_unconfigured", map[string]any{"destination": dest})
		}
		return lim, false
	}
	return lim, true
}

// pruneLocked drops timestamps at or before now-window and stores the rest.
func (l *Limiter) pruneLocked(k key, lim Limit, now time.Time) []time.Time {
	ts := l.hits[k]
	cutoff := now.Add(-lim.Window)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i > 0 {
		ts = append([]time.Time(nil), ts[i:]...)
		l.hits[k] = ts
	}
	return ts
}

func normID(id string) string {
	if id == "" {
		return DefaultIdentifier
	}
	return id
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
