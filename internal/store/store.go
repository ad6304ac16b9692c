// Package store persists which records have been delivered.
package store

import (
	"context"
	"fmt"
	"time"

	"xwatch/internal/model"
)

// CursorLastRun holds the RFC3339 finish time of the last pipeline run.
const CursorLastRun = "pipeline:last_run"

// Store is the durable id -> delivery status map.
type Store interface {
	WasDelivered(ctx context.Context, id string) (bool, error)
	// MarkDelivered upserts the record as notified. The first delivered_at
	// is kept; calling it twice is not an error.
	MarkDelivered(ctx context.Context, id string, rec model.Record) error
	Stats(ctx context.Context) (Stats, error)
	Deliveries(ctx context.Context, since time.Time) ([]model.DeliveryRecord, error)
	// Prune removes delivery rows older than before and returns how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
	SaveCursor(ctx context.Context, key, value string) error
	LoadCursor(ctx context.Context, key string) (string, error)
	Close() error
}

// Stats summarises the store for the status endpoint and CLI.
type Stats struct {
	TotalRecords    int            `json:"total_records"`
	DeliveredToday  int            `json:"delivered_today"`
	DeliveredTotal  int            `json:"delivered_total"`
	Synthetic       int            `json:"synthetic"`
	BySource        map[string]int `json:"by_source"`
	LastDeliveredAt time.Time      `json:"last_delivered_at,omitempty"`
}

// ReadError wraps a failed lookup. The pipeline treats it as fatal for the run.
type ReadError struct {
	Op  string
	ID  string
	Err error
}

func (e *ReadError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store read %s %q: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("store read %s: %v", e.Op, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// WriteError wraps a failed write. A record whose MarkDelivered failed stays
// eligible for delivery.
type WriteError struct {
	Op  string
	ID  string
	Err error
}

func (e *WriteError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store write %s %q: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("store write %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// StartOfDay returns midnight UTC of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
