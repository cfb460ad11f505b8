// Package feedback persists analyst labels on detection verdicts. Labels
// survive restarts and feed the model_accuracy figure: the fraction of
// labeled records where the detector's verdict matched the human one.
package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS feedback (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    service     TEXT NOT NULL DEFAULT '',
    raw_log     TEXT NOT NULL,
    predicted   BOOLEAN NOT NULL,
    label       BOOLEAN NOT NULL,
    score       REAL NOT NULL DEFAULT 0.0,
    comment     TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON feedback(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_feedback_service ON feedback(service);
`,
	},
}

// Entry is one labeled verdict.
type Entry struct {
	ID        int64     `json:"id"`
	Service   string    `json:"service"`
	RawLog    string    `json:"raw_log"`
	Predicted bool      `json:"predicted_anomaly"`
	Label     bool      `json:"is_anomaly"`
	Score     float64   `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the SQLite-backed feedback log. When the table exceeds the
// configured capacity the oldest rows are evicted.
type Store struct {
	db       *sql.DB
	capacity int
}

// NewStore opens (or creates) the feedback database at path and runs
// pending migrations. Pass ":memory:" for an in-memory store.
func NewStore(path string, capacity int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db, capacity: capacity}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Add appends one labeled entry, evicting the oldest rows when the
// store is over capacity. The entry's ID and CreatedAt are filled in.
func (s *Store) Add(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
        INSERT INTO feedback(service, raw_log, predicted, label, score, comment, created_at)
        VALUES(?,?,?,?,?,?,?)
    `, e.Service, e.RawLog, e.Predicted, e.Label, e.Score, e.Comment, e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	id, _ := result.LastInsertId()
	e.ID = id

	if s.capacity > 0 {
		_, err = tx.ExecContext(ctx, `
            DELETE FROM feedback WHERE id NOT IN (
                SELECT id FROM feedback ORDER BY id DESC LIMIT ?
            )
        `, s.capacity)
		if err != nil {
			return fmt.Errorf("evict feedback: %w", err)
		}
	}

	return tx.Commit()
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, service, raw_log, predicted, label, score, comment, created_at
        FROM feedback ORDER BY id DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		e := &Entry{}
		var ts string
		if err := rows.Scan(&e.ID, &e.Service, &e.RawLog, &e.Predicted, &e.Label, &e.Score, &e.Comment, &ts); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = parseTime(ts)
		result = append(result, e)
	}
	return result, rows.Err()
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback`).Scan(&n)
	return n, err
}

// Accuracy returns the fraction of labeled entries where the detector's
// verdict agreed with the label, and the number of labels it is based
// on. Zero labels yields (0, 0).
func (s *Store) Accuracy(ctx context.Context) (float64, int64, error) {
	var total, agreed int64
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*), COALESCE(SUM(CASE WHEN predicted = label THEN 1 ELSE 0 END), 0)
        FROM feedback
    `).Scan(&total, &agreed)
	if err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, nil
	}
	return float64(agreed) / float64(total), total, nil
}

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
