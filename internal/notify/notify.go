// Package notify delivers records to the chat sink and the record-keeping
// services.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"xwatch/internal/logging"
	"xwatch/internal/metrics"
	"xwatch/internal/model"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
)

// Receipt describes a call the sink answered. OK=false is a soft failure:
// the sink refused the message and the record stays undelivered.
type Receipt struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Notifier is the primary notification sink. A non-nil error means the
// sink could not be reached after bounded retries.
type Notifier interface {
	Notify(ctx context.Context, rec model.Record) (Receipt, error)
}

// Logger is a secondary record-keeping destination.
type Logger interface {
	// Name doubles as the rate limiter destination.
	Name() string
	Log(ctx context.Context, rec model.Record) error
}

// Waiter is the slice of the rate limiter loggers need.
type Waiter interface {
	Wait(ctx context.Context, dest, id string) error
}

// BestEffort wraps a Logger so that nothing it does reaches the caller.
// Synthetic records are never sent to record-keeping services.
type BestEffort struct {
	Logger  Logger
	Limiter Waiter
}

// Log reports whether the record was written.
func (b BestEffort) Log(ctx context.Context, rec model.Record) (ok bool) {
	if rec.IsSynthetic() {
		return false
	}
	name := b.Logger.Name()
	defer func() {
		if r := recover(); r != nil {
			logging.Error("logger_panic", map[string]any{"destination": name, "record_id": rec.ID, "panic": fmt.Sprint(r)})
			metrics.IncDeliveryFailure(name, "panic")
			ok = false
		}
	}()
	if b.Limiter != nil {
		if err := b.Limiter.Wait(ctx, name, ""); err != nil {
			logging.Warn("logger_rate_wait", map[string]any{"destination": name, "record_id": rec.ID, "error": err})
			return false
		}
	}
	if err := b.Logger.Log(ctx, rec); err != nil {
		logging.Warn("logger_failed", map[string]any{"destination": name, "record_id": rec.ID, "error": err})
		metrics.IncDeliveryFailure(name, "error")
		return false
	}
	return true
}

// FormatText renders a record as plain text for chat sinks.
func FormatText(rec model.Record) string {
	var sb strings.Builder
	if rec.IsSynthetic() {
		sb.WriteString("[SYNTHETIC] ")
	}
	fmt.Fprintf(&sb, "@%s\n%s\n", rec.Author, rec.Text)
	fmt.Fprintf(&sb, "likes %d · reposts %d · replies %d", rec.Engagement.Likes, rec.Engagement.Reposts, rec.Engagement.Replies)
	if rec.URL != "" {
		sb.WriteString("\n" + rec.URL)
	}
	return sb.String()
}
