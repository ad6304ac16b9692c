// Package sqlitestore is the default SQLite delivery store.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"xwatch/internal/model"
	"xwatch/internal/store"
)

// DB wraps a SQLite database used as the delivery store.
type DB struct {
	sql   *sql.DB
	nowFn func() time.Time
}

var _ store.Store = (*DB)(nil)

func Open(path string) (*DB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil { return nil, err }
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		// every pooled connection would get its own empty database
		d.SetMaxOpenConns(1)
	}
	if _, err := d.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = d.Close()
		return nil, err
	}
	db := &DB{sql: d, nowFn: time.Now}
	if err := db.migrate(); err != nil { _ = d.Close(); return nil, err }
	return db, nil
}

func (d *DB) Close() error { return d.sql.Close() }

func (d *DB) migrate() error {
	_, err := d.sql.Exec(`
	CREATE TABLE IF NOT EXISTS deliveries (
	  id TEXT PRIMARY KEY,
	  delivered_at INTEGER NOT NULL,
	  source TEXT NOT NULL,
	  notified INTEGER NOT NULL DEFAULT 0,
	  snapshot TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_at ON deliveries(delivered_at);
	CREATE TABLE IF NOT EXISTS cursors (
	  key TEXT PRIMARY KEY,
	  value TEXT NOT NULL
	);
	`)
	return err
}

func (d *DB) WasDelivered(ctx context.Context, id string) (bool, error) {
	var notified int
	err := d.sql.QueryRowContext(ctx, `SELECT notified FROM deliveries WHERE id=?`, id).Scan(&notified)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &store.ReadError{Op: "was_delivered", ID: id, Err: err}
	}
	return notified == 1, nil
}

func (d *DB) MarkDelivered(ctx context.Context, id string, rec model.Record) error {
	snap, err := json.Marshal(rec)
	if err != nil {
		return &store.WriteError{Op: "mark_delivered", ID: id, Err: err}
	}
	_, err = d.sql.ExecContext(ctx, `INSERT INTO deliveries(id, delivered_at, source, notified, snapshot) VALUES(?,?,?,1,?)
	  ON CONFLICT(id) DO UPDATE SET notified=1`, id, d.nowFn().UTC().UnixMilli(), string(rec.Source), string(snap))
	if err != nil {
		return &store.WriteError{Op: "mark_delivered", ID: id, Err: err}
	}
	return nil
}

func (d *DB) Stats(ctx context.Context) (store.Stats, error) {
	st := store.Stats{BySource: map[string]int{}}
	today := store.StartOfDay(d.nowFn()).UnixMilli()
	var last sql.NullInt64
	row := d.sql.QueryRowContext(ctx, `SELECT
	  COUNT(*),
	  COALESCE(SUM(CASE WHEN notified=1 THEN 1 ELSE 0 END), 0),
	  COALESCE(SUM(CASE WHEN notified=1 AND delivered_at>=? THEN 1 ELSE 0 END), 0),
	  COALESCE(SUM(CASE WHEN source=? THEN 1 ELSE 0 END), 0),
	  MAX(delivered_at)
	  FROM deliveries`, today, string(model.SourceSynthetic))
	if err := row.Scan(&st.TotalRecords, &st.DeliveredTotal, &st.DeliveredToday, &st.Synthetic, &last); err != nil {
		return st, &store.ReadError{Op: "stats", Err: err}
	}
	if last.Valid {
		st.LastDeliveredAt = time.UnixMilli(last.Int64).UTC()
	}
	rows, err := d.sql.QueryContext(ctx, `SELECT source, COUNT(*) FROM deliveries GROUP BY source`)
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

// Deliveries returns delivery rows at or after since, oldest first.
func (d *DB) Deliveries(ctx context.Context, since time.Time) ([]model.DeliveryRecord, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT id, delivered_at, notified, snapshot FROM deliveries WHERE delivered_at>=? ORDER BY delivered_at, id`, since.UTC().UnixMilli())
	if err != nil { return nil, &store.ReadError{Op: "deliveries", Err: err} }
	defer rows.Close()
	var out []model.DeliveryRecord
	for rows.Next() {
		var (
			id       string
			at       int64
			notified int
			snap     string
		)
		if err := rows.Scan(&id, &at, &notified, &snap); err != nil {
			return nil, &store.ReadError{Op: "deliveries", Err: err}
		}
		dr := model.DeliveryRecord{ID: id, DeliveredAt: time.UnixMilli(at).UTC(), Notified: notified == 1}
		if err := json.Unmarshal([]byte(snap), &dr.Snapshot); err != nil {
			return nil, &store.ReadError{Op: "deliveries", ID: id, Err: fmt.Errorf("decode snapshot: %w", err)}
		}
		out = append(out, dr)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.ReadError{Op: "deliveries", Err: err}
	}
	return out, nil
}

func (d *DB) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := d.sql.ExecContext(ctx, `DELETE FROM deliveries WHERE delivered_at<?`, before.UTC().UnixMilli())
	if err != nil { return 0, &store.WriteError{Op: "prune", Err: err} }
	return res.RowsAffected()
}

func (d *DB) SaveCursor(ctx context.Context, key, value string) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO cursors(key, value) VALUES(?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil { return &store.WriteError{Op: "save_cursor", ID: key, Err: err} }
	return nil
}

// LoadCursor returns "" for unknown keys.
func (d *DB) LoadCursor(ctx context.Context, key string) (string, error) {
	var v string
	err := d.sql.QueryRowContext(ctx, `SELECT value FROM cursors WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil { return "", &store.ReadError{Op: "load_cursor", ID: key, Err: err} }
	return v, nil
}
