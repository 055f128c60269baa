// Package duckdb holds the in-process analytical sidecar: job transition
// history and runtime settings. Live job state never lives here — the
// registry owns it — and the default DSN is in-memory, so nothing survives a
// restart.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/voxbridge/voicerelay/internal/core/domain"
)

type Repository struct {
	db *sql.DB
}

// NewRepository opens a DuckDB database. An empty dsn means in-memory.
func NewRepository(dsn string) (*Repository, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS job_events (
			id         VARCHAR PRIMARY KEY,
			job_id     VARCHAR NOT NULL,
			status     VARCHAR NOT NULL,
			detail     VARCHAR,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key   VARCHAR PRIMARY KEY,
			value VARCHAR NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// RecordJobEvent appends one transition to a job's history.
func (r *Repository) RecordJobEvent(ctx context.Context, ev domain.JobEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO job_events (id, job_id, status, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.ID, string(ev.JobID), ev.Status, ev.Detail, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job event: %w", err)
	}
	return nil
}

// ListJobEvents returns a job's recorded transitions, oldest first.
func (r *Repository) ListJobEvents(ctx context.Context, jobID domain.JobID, limit int) ([]domain.JobEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, job_id, status, detail, created_at
		FROM job_events
		WHERE job_id = ?
		ORDER BY created_at ASC
		LIMIT ?`, string(jobID), limit)
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}
	defer rows.Close()

	out := []domain.JobEvent{}
	for rows.Next() {
		var ev domain.JobEvent
		var jobID string
		if err := rows.Scan(&ev.ID, &jobID, &ev.Status, &ev.Detail, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.JobID = domain.JobID(jobID)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetSetting reads a settings value by key.
func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	row := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)

	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("setting %q not found", key)
		}
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

// SaveSetting upserts a settings value.
func (r *Repository) SaveSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("save setting %q: %w", key, err)
	}
	return nil
}
