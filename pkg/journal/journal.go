// Package journal keeps a SQLite history of submitted print jobs.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Outcome is the result of a submission
type Outcome string

const (
	OutcomePrinted Outcome = "printed"
	OutcomeFailed  Outcome = "failed"
)

// Entry is one journaled submission
type Entry struct {
	ID             int64
	ConversationID string
	DocumentName   string
	Copies         int
	ColorMode      string
	Outcome        Outcome
	JobID          string
	ErrorKind      string
	Error          string
	CreatedAt      time.Time
}

// Journal records submissions
type Journal struct {
	db *sql.DB
}

const schema = `
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		document_name TEXT NOT NULL,
		copies INTEGER NOT NULL,
		color_mode TEXT NOT NULL,
		outcome TEXT NOT NULL,
		job_id TEXT NOT NULL DEFAULT '',
		error_kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_conversation ON jobs(conversation_id);
`

// Open opens or creates the journal database at path
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	// Concurrent lanes write through one connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record appends an entry. A zero CreatedAt is stamped with the current time.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO jobs (conversation_id, document_name, copies, color_mode, outcome, job_id, error_kind, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ConversationID, e.DocumentName, e.Copies, e.ColorMode, string(e.Outcome),
		e.JobID, e.ErrorKind, e.Error, e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record job: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, conversation_id, document_name, copies, color_mode, outcome, job_id, error_kind, error, created_at
		FROM jobs
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var outcome string
		var created int64
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.DocumentName, &e.Copies, &e.ColorMode,
			&outcome, &e.JobID, &e.ErrorKind, &e.Error, &created); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		e.Outcome = Outcome(outcome)
		e.CreatedAt = time.UnixMilli(created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counts returns the number of journaled jobs per outcome
func (j *Journal) Counts(ctx context.Context) (map[Outcome]int, error) {
	rows, err := j.db.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM jobs GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[Outcome(outcome)] = n
	}
	return counts, rows.Err()
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}
