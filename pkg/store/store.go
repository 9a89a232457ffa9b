package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"safelink/pkg/config"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	class       INTEGER NOT NULL,
	vector      TEXT NOT NULL,
	fallbacks   INTEGER NOT NULL DEFAULT 0,
	invalid     INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	errors      TEXT,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_runs_url ON runs(url);
`

// DB records labelled extraction runs for dataset building.
type DB struct {
	*sql.DB
	path string
}

// Run is one stored extraction.
type Run struct {
	ID        string
	URL       string
	Class     int
	Vector    config.Vector
	Fallbacks int
	Invalid   bool
	Duration  time.Duration
	Errors    []string
	CreatedAt time.Time
}

func openDB(dbPath string) (*sql.DB, error) {
	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	return sqlDB, nil
}

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*DB, error) {
	sqlDB, err := openDB(path)
	if err != nil {
		return nil, err
	}
	db := &DB{DB: sqlDB, path: path}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) InitSchema() error {
	_, err := db.Exec(schema)
	return err
}

// SaveReport stores a report under its ID with the given class label.
// Saving the same report twice replaces the earlier row.
func (db *DB) SaveReport(ctx context.Context, r *config.Report, class int) error {
	vec, err := json.Marshal(r.Vector)
	if err != nil {
		return fmt.Errorf("encode vector: %w", err)
	}
	var errs []byte
	if len(r.ExtractionErrors) > 0 {
		if errs, err = json.Marshal(r.ExtractionErrors); err != nil {
			return fmt.Errorf("encode errors: %w", err)
		}
	}
	_, err = db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, url, class, vector, fallbacks, invalid, duration_ms, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.URL, class, string(vec), r.FallbackCount(), r.Invalid, r.Duration.Milliseconds(), nullString(errs),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", r.ID, err)
	}
	return nil
}

// Runs returns stored runs oldest first. limit <= 0 returns all.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, url, class, vector, fallbacks, invalid, duration_ms, errors, created_at FROM runs ORDER BY created_at, rowid`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run    Run
			vec    string
			errs   sql.NullString
			millis int64
		)
		if err := rows.Scan(&run.ID, &run.URL, &run.Class, &vec, &run.Fallbacks, &run.Invalid, &millis, &errs, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(vec), &run.Vector); err != nil {
			return nil, fmt.Errorf("decode vector of %s: %w", run.ID, err)
		}
		if errs.Valid && errs.String != "" {
			if err := json.Unmarshal([]byte(errs.String), &run.Errors); err != nil {
				return nil, fmt.Errorf("decode errors of %s: %w", run.ID, err)
			}
		}
		run.Duration = time.Duration(millis) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Count returns the number of stored runs for class.
func (db *DB) Count(ctx context.Context, class int) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE class = ?`, class).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

func nullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
