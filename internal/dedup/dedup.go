// Package dedup drops repeated and already delivered records.
package dedup

import (
	"context"
	"errors"

	"xwatch/internal/model"
	"xwatch/internal/store"
)

// Checker answers whether an id has already been delivered.
type Checker interface {
	WasDelivered(ctx context.Context, id string) (bool, error)
}

// Dedupe keeps the first record per id in input order. Records without an
// id are dropped.
func Dedupe(recs []model.Record) []model.Record {
	seen := make(map[string]struct{}, len(recs))
	out := make([]model.Record, 0, len(recs))
	for _, r := range recs {
		if r.ID == "" {
			continue
		}
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// FilterUnseen returns the records the checker has not seen delivered,
// preserving order. The first lookup error aborts.
func FilterUnseen(ctx context.Context, recs []model.Record, c Checker) ([]model.Record, error) {
	out := make([]model.Record, 0, len(recs))
	for _, r := range recs {
		done, err := c.WasDelivered(ctx, r.ID)
		if err != nil {
			var re *store.ReadError
			if errors.As(err, &re) {
				return nil, err
			}
			return nil, &store.ReadError{Op: "was_delivered", ID: r.ID, Err: err}
		}
		if !done {
			out = append(out, r)
		}
	}
	return out, nil
}
