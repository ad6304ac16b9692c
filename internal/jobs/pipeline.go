// Package jobs runs the fetch, dedup and delivery pipeline.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"xwatch/internal/dedup"
	"xwatch/internal/logging"
	"xwatch/internal/metrics"
	"xwatch/internal/model"
	"xwatch/internal/notify"
	"xwatch/internal/query"
	"xwatch/internal/store"
)

const (
	DefaultInterQueryDelay    = 2 * time.Second
	DefaultInterDeliveryDelay = time.Second

	// NotificationDestination is the limiter destination for the chat sink.
	NotificationDestination = "notification"
)

// DeliveryError aborts a run when the notification sink cannot be reached.
type DeliveryError struct {
	RecordID    string
	Destination string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %q to %s: %v", e.RecordID, e.Destination, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Searcher returns records for one query expression.
type Searcher interface {
	Search(ctx context.Context, q string) ([]model.Record, error)
}

// Waiter is the slice of the rate limiter the pipeline needs.
type Waiter interface {
	Wait(ctx context.Context, dest, id string) error
}

// Options tune pacing and failure policy.
type Options struct {
	InterQueryDelay    time.Duration
	InterDeliveryDelay time.Duration
	// ContinueOnError keeps delivering after a sink error instead of aborting.
	ContinueOnError bool
	// AbortOnSoftFail stops the run on the first refused message.
	AbortOnSoftFail bool
	MaxTerms        int
}

// Summary describes one run.
type Summary struct {
	RunID         string    `json:"run_id"`
	Queries       int       `json:"queries"`
	Fetched       int       `json:"fetched"`
	Unique        int       `json:"unique"`
	New           int       `json:"new"`
	Delivered     int       `json:"delivered"`
	SoftFailed    int       `json:"soft_failed"`
	Failed        int       `json:"failed"`
	PersistFailed int       `json:"persist_failed"`
	Logged        int       `json:"logged"`
	Skipped       bool      `json:"skipped"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Error         string    `json:"error,omitempty"`
}

// Pipeline owns one logical flow at a time; overlapping triggers are dropped.
type Pipeline struct {
	queries  []model.SearchQuery
	fetcher  Searcher
	store    store.Store
	notifier notify.Notifier
	loggers  []notify.BestEffort
	limiter  Waiter
	opts     Options
	closers  []io.Closer

	running atomic.Bool
	last    atomic.Pointer[Summary]

	nowFn   func() time.Time
	sleepFn func(ctx context.Context, d time.Duration) error
}

func New(queries []model.SearchQuery, f Searcher, st store.Store, n notify.Notifier, limiter Waiter, opts Options) *Pipeline {
	if opts.InterQueryDelay < 0 { opts.InterQueryDelay = 0 }
	if opts.InterDeliveryDelay < 0 { opts.InterDeliveryDelay = 0 }
	return &Pipeline{
		queries:  queries,
		fetcher:  f,
		store:    st,
		notifier: n,
		limiter:  limiter,
		opts:     opts,
		nowFn:    time.Now,
		sleepFn:  sleepCtx,
	}
}

// AddLogger registers a secondary logger. Its failures never reach Run.
func (p *Pipeline) AddLogger(l notify.Logger) {
	p.loggers = append(p.loggers, notify.BestEffort{Logger: l, Limiter: p.limiter})
}

// OnClose registers resources released by Close, such as the browser.
func (p *Pipeline) OnClose(c io.Closer) {
	if c != nil {
		p.closers = append(p.closers, c)
	}
}

// Running reports whether a run is in flight.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Last returns the most recent finished run.
func (p *Pipeline) Last() (Summary, bool) {
	s := p.last.Load()
	if s == nil {
		return Summary{}, false
	}
	return *s, true
}

// Run performs one pass. A trigger while another run is active returns a
// skipped summary and no error.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		metrics.RunsSkipped.Inc()
		logging.Info("run_skipped", map[string]any{"reason": "already_running"})
		return Summary{Skipped: true, StartedAt: p.nowFn().UTC(), FinishedAt: p.nowFn().UTC()}, nil
	}
	defer p.running.Store(false)

	sum := Summary{RunID: newRunID(), StartedAt: p.nowFn().UTC()}
	start := time.Now()
	metrics.RunsTotal.Inc()
	logging.Info("run_start", map[string]any{"run_id": sum.RunID})

	err := p.run(ctx, &sum)

	sum.FinishedAt = p.nowFn().UTC()
	metrics.ObserveRunDuration(start)
	if err != nil {
		sum.Error = err.Error()
		metrics.RunErrors.Inc()
		logging.Error("run_failed", map[string]any{"run_id": sum.RunID, "error": err, "delivered": sum.Delivered})
	} else {
		p.afterRun(ctx, &sum)
		logging.Info("run_done", map[string]any{
			"run_id": sum.RunID, "queries": sum.Queries, "fetched": sum.Fetched, "new": sum.New,
			"delivered": sum.Delivered, "soft_failed": sum.SoftFailed, "persist_failed": sum.PersistFailed,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
	done := sum
	p.last.Store(&done)
	return sum, err
}

func (p *Pipeline) run(ctx context.Context, sum *Summary) error {
	exprs := query.Expand(p.queries, p.opts.MaxTerms)
	var all []model.Record
	for _, q := range exprs {
		recs, err := p.fetcher.Search(ctx, q)
		if err != nil {
			return fmt.Errorf("fetch %q: %w", q, err)
		}
		sum.Queries++
		all = append(all, recs...)
		logging.Debug("query_fetched", map[string]any{"run_id": sum.RunID, "query": q, "count": len(recs)})
		if err := p.sleepFn(ctx, p.opts.InterQueryDelay); err != nil {
			return err
		}
	}
	sum.Fetched = len(all)

	unique := dedup.Dedupe(all)
	sum.Unique = len(unique)
	fresh, err := dedup.FilterUnseen(ctx, unique, p.store)
	if err != nil {
		return err
	}
	sum.New = len(fresh)
	if len(fresh) == 0 {
		return nil
	}

	for _, rec := range fresh {
		if err := p.deliver(ctx, sum, rec); err != nil {
			return err
		}
		if err := p.sleepFn(ctx, p.opts.InterDeliveryDelay); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) deliver(ctx context.Context, sum *Summary, rec model.Record) error {
	fields := map[string]any{"run_id": sum.RunID, "record_id": rec.ID, "destination": NotificationDestination}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, NotificationDestination, ""); err != nil {
			return err
		}
	}
	receipt, err := p.notifier.Notify(ctx, rec)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.IncDeliveryFailure(NotificationDestination, "error")
		sum.Failed++
		derr := &DeliveryError{RecordID: rec.ID, Destination: NotificationDestination, Err: err}
		if !p.opts.ContinueOnError {
			return derr
		}
		fields["error"] = derr
		logging.Error("delivery_failed", fields)
		return nil
	}
	if !receipt.OK {
		metrics.IncDeliveryFailure(NotificationDestination, "soft")
		sum.SoftFailed++
		fields["status"] = receipt.Status
		fields["detail"] = receipt.Detail
		logging.Warn("delivery_refused", fields)
		if p.opts.AbortOnSoftFail {
			return &DeliveryError{RecordID: rec.ID, Destination: NotificationDestination, Err: fmt.Errorf("sink refused message: status %d", receipt.Status)}
		}
		return nil
	}

	if err := p.store.MarkDelivered(ctx, rec.ID, rec); err != nil {
		metrics.PersistenceFailures.Inc()
		sum.PersistFailed++
		fields["error"] = err
		logging.Error("persist_failed", fields)
	} else {
		sum.Delivered++
		metrics.Delivered.Inc()
	}
	for _, l := range p.loggers {
		if l.Log(ctx, rec) {
			sum.Logged++
		}
	}
	return nil
}

// afterRun saves the last-run cursor. Failures are logged only.
func (p *Pipeline) afterRun(ctx context.Context, sum *Summary) {
	if err := p.store.SaveCursor(ctx, store.CursorLastRun, sum.FinishedAt.Format(time.RFC3339)); err != nil {
		logging.Warn("cursor_save_failed", map[string]any{"run_id": sum.RunID, "error": err})
	}
}

// Close releases registered resources.
func (p *Pipeline) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
