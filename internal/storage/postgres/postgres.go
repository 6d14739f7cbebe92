// Package postgres stores search records in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FranksOps/serpd/internal/storage"
)

var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
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
	duration_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS search_records_created_at ON search_records (created_at);
`

// New connects to dsn and creates the schema if missing.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, r *storage.SearchRecord) error {
	const query = `
	INSERT INTO search_records (
		id, query, driver, outcome, result_count, challenge, error, duration_ms, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := b.pool.Exec(ctx, query,
		r.ID,
		r.Query,
		r.Driver,
		r.Outcome,
		r.ResultCount,
		r.Challenge,
		r.Error,
		r.Duration.Milliseconds(),
		r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save %s: %w", r.ID, err)
	}
	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.SearchRecord, error) {
	query := `SELECT id, query, driver, outcome, result_count, challenge, error, duration_ms, created_at FROM search_records WHERE 1=1`
	args := []any{}
	param := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Query != "" {
		query += ` AND query = ` + param(filter.Query)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ` + param(filter.Outcome)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ` + param(*filter.Since)
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ` + param(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + param(filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
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
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
