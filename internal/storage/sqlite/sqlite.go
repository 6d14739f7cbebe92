// Package sqlite stores search records in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/FranksOps/serpd/internal/storage"
)

var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS search_records (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	driver TEXT NOT NULL,
	outcome TEXT NOT NULL,
	result_count INTEGER NOT NULL,
	challenge TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS search_records_created_at ON search_records (created_at);
`

// New opens (creating if needed) the database at dsn.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent searches.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, r *storage.SearchRecord) error {
	const query = `
	INSERT INTO search_records (
		id, query, driver, outcome, result_count, challenge, error, duration_ms, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := b.db.ExecContext(ctx, query,
		r.ID,
		r.Query,
		r.Driver,
		r.Outcome,
		r.ResultCount,
		r.Challenge,
		r.Error,
		r.Duration.Milliseconds(),
		r.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save %s: %w", r.ID, err)
	}
	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.SearchRecord, error) {
	query := `SELECT id, query, driver, outcome, result_count, challenge, error, duration_ms, created_at FROM search_records WHERE 1=1`
	args := []any{}

	if filter.Query != "" {
		query += ` AND query = ?`
		args = append(args, filter.Query)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, filter.Outcome)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	results := []*storage.SearchRecord{}
	for rows.Next() {
		var r storage.SearchRecord
		var durationMs int64
		if err := rows.Scan(
			&r.ID, &r.Query, &r.Driver, &r.Outcome, &r.ResultCount,
			&r.Challenge, &r.Error, &durationMs, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}
	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
