package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

const ddlClips = `
CREATE TABLE IF NOT EXISTS clips (
    id         TEXT        PRIMARY KEY,
    audio      BYTEA       NOT NULL,
    mime_type  TEXT        NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_clips_created_at
    ON clips (created_at);`

// PostgresStore is a [Store] backed by a PostgreSQL clips table.
//
// All operations are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore establishes a connection pool to the database at dsn and
// ensures the clips table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlClips); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Put implements [Store].
func (s *PostgresStore) Put(ctx context.Context, audio []byte, mimeType string) (string, error) {
	id := newClipID()

	const q = `
		INSERT INTO clips (id, audio, mime_type)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, q, id, audio, mimeType); err != nil {
		return "", fmt.Errorf("postgres store: put clip: %w", err)
	}
	return id, nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (Clip, error) {
	const q = `
		SELECT id, audio, mime_type, created_at
		FROM   clips
		WHERE  id = $1`

	var clip Clip
	err := s.pool.QueryRow(ctx, q, id).Scan(&clip.ID, &clip.Audio, &clip.MIMEType, &clip.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Clip{}, ErrNotFound
	}
	if err != nil {
		return Clip{}, fmt.Errorf("postgres store: get clip: %w", err)
	}
	return clip, nil
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM clips WHERE id = $1`

	if _, err := s.pool.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("postgres store: delete clip: %w", err)
	}
	return nil
}

// DeleteOlderThan removes clips created before the given cutoff and returns
// the number of rows deleted. Intended for periodic cleanup jobs.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM clips WHERE created_at < $1`

	tag, err := s.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres store: delete older than: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close releases all connections held by the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
