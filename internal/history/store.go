// Package history persists detected violations to a local sqlite database
// so operators can query past incidents after the in-memory state has been
// cleared. Persistence is best-effort: a nil *Store disables it and the
// monitoring loop never depends on it.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rstanik/sentineld/internal/model"
)

// Store is a sqlite-backed violation history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS violations (
		id TEXT PRIMARY KEY,
		resource_id TEXT NOT NULL,
		path TEXT NOT NULL,
		expected_digest TEXT NOT NULL,
		actual_digest TEXT NOT NULL,
		level INTEGER NOT NULL,
		cycle INTEGER NOT NULL DEFAULT 0,
		detected_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_violations_detected_at ON violations(detected_at);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Record inserts one violation.
func (s *Store) Record(ctx context.Context, v model.Violation, cycle uint64) error {
	query := `INSERT INTO violations (
		id, resource_id, path, expected_digest, actual_digest, level, cycle, detected_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		v.ID, v.ResourceID, v.Path, v.Expected, v.Actual, int(v.Level), cycle,
		v.DetectedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history: insert violation: %w", err)
	}
	return nil
}

// Recent returns the most recent violations, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]model.Violation, error) {
	query := `
	SELECT id, resource_id, path, expected_digest, actual_digest, level, detected_at
	FROM violations
	ORDER BY detected_at DESC
	LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Violation
	for rows.Next() {
		var v model.Violation
		var level int
		var detectedAt string
		if err := rows.Scan(&v.ID, &v.ResourceID, &v.Path, &v.Expected, &v.Actual, &level, &detectedAt); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}
		v.Level = model.ThreatLevel(level)
		v.DetectedAt, _ = time.Parse(time.RFC3339Nano, detectedAt)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountByLevel returns violation counts grouped by threat level.
func (s *Store) CountByLevel(ctx context.Context) (map[model.ThreatLevel]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT level, COUNT(*) FROM violations GROUP BY level`)
	if err != nil {
		return nil, fmt.Errorf("history: count by level: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[model.ThreatLevel]int)
	for rows.Next() {
		var level, n int
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("history: scan count: %w", err)
		}
		counts[model.ThreatLevel(level)] = n
	}
	return counts, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
