// Package pgstore keeps delivery state in PostgreSQL for shared deployments.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"xwatch/internal/model"
	"xwatch/internal/store"
)

type Store struct {
	Pool  *pgxpool.Pool
	nowFn func() time.Time
}

var _ store.Store = (*Store)(nil)

func Open(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	s := &Store{Pool: pool, nowFn: time.Now}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS deliveries (
			id TEXT PRIMARY KEY,
			delivered_at TIMESTAMPTZ NOT NULL,
			source TEXT NOT NULL,
			notified BOOLEAN NOT NULL DEFAULT FALSE,
			snapshot JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_at ON deliveries(delivered_at)`,
		`CREATE TABLE IF NOT EXISTS cursors (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	}
	for _, q := range queries {
		if _, err := s.Pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.Pool.Close()
	return nil
}

func (s *Store) WasDelivered(ctx context.Context, id string) (bool, error) {
	var notified bool
	err := s.Pool.QueryRow(ctx, "SELECT notified FROM deliveries WHERE id = $1", id).Scan(&notified)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &store.ReadError{Op: "was_delivered", ID: id, Err: err}
	}
	return notified, nil
}

func (s *Store) MarkDelivered(ctx context.Context, id string, rec model.Record) error {
	snap, err := json.Marshal(rec)
	if err != nil {
		return &store.WriteError{Op: "mark_delivered", ID: id, Err: err}
	}
	_, err = s.Pool.Exec(ctx,
		`INSERT INTO deliveries (id, delivered_at, source, notified, snapshot) VALUES ($1, $2, $3, TRUE, $4)
		 ON CONFLICT (id) DO UPDATE SET notified = TRUE`,
		id, s.nowFn().UTC(), string(rec.Source), snap)
	if err != nil {
		return &store.WriteError{Op: "mark_delivered", ID: id, Err: err}
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	st := store.Stats{BySource: map[string]int{}}
	var last *time.Time
	err := s.Pool.QueryRow(ctx, `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE notified),
		COUNT(*) FILTER (WHERE notified AND delivered_at >= $1),
		COUNT(*) FILTER (WHERE source = $2),
		MAX(delivered_at)
		FROM deliveries`, store.StartOfDay(s.nowFn()), string(model.SourceSynthetic)).
		Scan(&st.TotalRecords, &st.DeliveredTotal, &st.DeliveredToday, &st.Synthetic, &last)
	if err != nil {
		return st, &store.ReadError{Op: "stats", Err: err}
	}
	if last != nil {
		st.LastDeliveredAt = last.UTC()
	}
	rows, err := s.Pool.Query(ctx, "SELECT source, COUNT(*) FROM deliveries GROUP BY source")
	if err != nil { return st, &store.ReadError{Op: "stats", Err: err} }
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil { return st, &store.ReadError{Op: "stats", Err: err} }
		st.BySource[src] = n
	}
	if err := rows.Err(); err != nil {
		return st, &store.ReadError{Op: "stats", Err: err}
	}
	return st, nil
}

func (s *Store) Deliveries(ctx context.Context, since time.Time) ([]model.DeliveryRecord, error) {
	rows, err := s.Pool.Query(ctx, "SELECT id, delivered_at, notified, snapshot FROM deliveries WHERE delivered_at >= $1 ORDER BY delivered_at, id", since.UTC())
	if err != nil { return nil, &store.ReadError{Op: "deliveries", Err: err} }
	defer rows.Close()

	var res []model.DeliveryRecord
	for rows.Next() {
		var dr model.DeliveryRecord
		var snap []byte
		if err := rows.Scan(&dr.ID, &dr.DeliveredAt, &dr.Notified, &snap); err != nil {
			return nil, &store.ReadError{Op: "deliveries", Err: err}
		}
		dr.DeliveredAt = dr.DeliveredAt.UTC()
		if err := json.Unmarshal(snap, &dr.Snapshot); err != nil {
			return nil, &store.ReadError{Op: "deliveries", ID: dr.ID, Err: fmt.Errorf("decode snapshot: %w", err)}
		}
		res = append(res, dr)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.ReadError{Op: "deliveries", Err: err}
	}
	return res, nil
}

func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.Pool.Exec(ctx, "DELETE FROM deliveries WHERE delivered_at < $1", before.UTC())
	if err != nil { return 0, &store.WriteError{Op: "prune", Err: err} }
	return tag.RowsAffected(), nil
}

func (s *Store) SaveCursor(ctx context.Context, key, value string) error {
	_, err := s.Pool.Exec(ctx,
		"INSERT INTO cursors (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = $2",
		key, value)
	if err != nil { return &store.WriteError{Op: "save_cursor", ID: key, Err: err} }
	return nil
}

func (s *Store) LoadCursor(ctx context.Context, key string) (string, error) {
	var v string
	err := s.Pool.QueryRow(ctx, "SELECT value FROM cursors WHERE key = $1", key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil { return "", &store.ReadError{Op: "load_cursor", ID: key, Err: err} }
	return v, nil
}
