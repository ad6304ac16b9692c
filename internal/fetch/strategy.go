package fetch

import (
	"context"

	"xwatch/internal/model"
)

// Kind classifies what one strategy attempt produced.
type Kind int

const (
	// Found means at least one record was parsed.
	Found Kind = iota
	// Empty means the surface answered but nothing usable came back,
	// including caught network errors.
	Empty
	// Unavailable means the surface could not be reached at all.
	Unavailable
)

func (k Kind) String() string {
	switch k {
	case Found:
		return "found"
	case Empty:
		return "empty"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Outcome is the typed result of one strategy attempt.
type Outcome struct {
	Kind    Kind
	Records []model.Record
	Err     error
}

func found(recs []model.Record) Outcome { return Outcome{Kind: Found, Records: recs} }
func empty(err error) Outcome           { return Outcome{Kind: Empty, Err: err} }
func unavailable(err error) Outcome     { return Outcome{Kind: Unavailable, Err: err} }

// Strategy is one way of turning a query into records.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, query string) Outcome
}
