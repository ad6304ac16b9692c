// Package fetch runs the ordered search strategies for one query with a
// bounded retry.
package fetch

import (
	"context"
	"fmt"
	"time"

	"xwatch/internal/logging"
	"xwatch/internal/metrics"
	"xwatch/internal/model"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 2 * time.Second

	// RateDestination is the limiter destination waited on before each attempt.
	RateDestination = "source"
)

// FetchExhaustedError is returned once every attempt found all live
// surfaces unavailable.
type FetchExhaustedError struct {
	Query    string
	Attempts int
	Last     error
}

func (e *FetchExhaustedError) Error() string {
	return fmt.Sprintf("fetch %q: exhausted after %d attempts: %v", e.Query, e.Attempts, e.Last)
}

func (e *FetchExhaustedError) Unwrap() error { return e.Last }

// Waiter is the slice of the rate limiter the fetcher needs.
type Waiter interface {
	Wait(ctx context.Context, dest, id string) error
}

// Options configure strategy order and retry.
type Options struct {
	UseProxy          bool
	SyntheticFallback bool
	MaxRetries        int
	BaseDelay         time.Duration
}

// Fetcher walks its strategies in order for every attempt.
type Fetcher struct {
	live       []Strategy
	synthetic  Strategy
	limiter    Waiter
	maxRetries int
	baseDelay  time.Duration
	sleepFn    func(ctx context.Context, d time.Duration) error
}

// New assembles the strategy order: [proxy] when opts.UseProxy, otherwise
// [browser, proxy]; nil strategies are skipped. Synthetic goes last unless
// disabled.
func New(opts Options, browserS, proxyS, syntheticS Strategy, limiter Waiter) *Fetcher {
	f := &Fetcher{
		limiter:    limiter,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		sleepFn:    sleepCtx,
	}
	if f.maxRetries <= 0 { f.maxRetries = DefaultMaxRetries }
	if f.baseDelay <= 0 { f.baseDelay = DefaultBaseDelay }
	if opts.UseProxy {
		f.add(proxyS)
	} else {
		f.add(browserS)
		f.add(proxyS)
	}
	if opts.SyntheticFallback {
		f.synthetic = syntheticS
	}
	return f
}

func (f *Fetcher) add(s Strategy) {
	if s != nil {
		f.live = append(f.live, s)
	}
}

// Strategies returns the strategy names in the order they are tried.
func (f *Fetcher) Strategies() []string {
	var names []string
	for _, s := range f.live {
		names = append(names, s.Name())
	}
	if f.synthetic != nil {
		names = append(names, f.synthetic.Name())
	}
	return names
}

// Search returns records for q. Live strategies are tried in order; the
// first one to find records wins. When every live strategy comes back empty
// the synthetic strategy fills in. Only an attempt where every live surface
// was unavailable is retried.
func (f *Fetcher) Search(ctx context.Context, q string) ([]model.Record, error) {
	var last error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		if attempt > 1 {
			if err := f.sleepFn(ctx, time.Duration(attempt-1)*f.baseDelay); err != nil {
				return nil, err
			}
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, RateDestination, ""); err != nil {
				return nil, err
			}
		}
		recs, retry, err := f.attempt(ctx, q)
		if !retry {
			return recs, nil
		}
		last = err
		logging.Warn("fetch_attempt_unavailable", map[string]any{"query": q, "attempt": attempt, "error": err})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, &FetchExhaustedError{Query: q, Attempts: f.maxRetries, Last: last}
}

func (f *Fetcher) attempt(ctx context.Context, q string) ([]model.Record, bool, error) {
	unavailableCount := 0
	var last error
	for _, s := range f.live {
		out := s.Attempt(ctx, q)
		metrics.IncFetchAttempt(s.Name(), out.Kind.String())
		logging.Debug("fetch_attempt", map[string]any{"query": q, "strategy": s.Name(), "outcome": out.Kind.String(), "count": len(out.Records)})
		switch out.Kind {
		case Found:
			return stamp(out.Records, q), false, nil
		case Unavailable:
			unavailableCount++
			last = out.Err
		default:
			if out.Err != nil {
				last = out.Err
			}
		}
	}
	if len(f.live) > 0 && unavailableCount == len(f.live) {
		if last == nil {
			last = fmt.Errorf("no search surface reachable")
		}
		return nil, true, last
	}
	if f.synthetic == nil {
		return nil, false, nil
	}
	out := f.synthetic.Attempt(ctx, q)
	metrics.IncFetchAttempt(f.synthetic.Name(), out.Kind.String())
	logging.Info("fetch_synthetic_fallback", map[string]any{"query": q, "count": len(out.Records)})
	return stamp(out.Records, q), false, nil
}

// stamp tags records with the query that found them and fills missing
// timestamps.
func stamp(recs []model.Record, q string) []model.Record {
	now := time.Now().UTC()
	for i := range recs {
		recs[i].Query = q
		if recs[i].CreatedAt.IsZero() {
			recs[i].CreatedAt = now
		}
	}
	if len(recs) > 0 {
		metrics.IncFetched(string(recs[0].Source), len(recs))
	}
	return recs
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
