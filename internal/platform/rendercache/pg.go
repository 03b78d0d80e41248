package rendercache

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/notes/internal/platform/db"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PGStore keeps rendered markup in the rendered_documents table.
type PGStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

// NewPGStore returns a store on pool. Entries older than ttl are treated as
// misses; ttl <= 0 disables expiry.
func NewPGStore(pool *pgxpool.Pool, ttl time.Duration) *PGStore {
	return &PGStore{pool: pool, ttl: ttl}
}

// MigrationsTable tracks which render cache migrations have run.
const MigrationsTable = "_rendercache_migrations"

// NewMigrator returns a migrator over the cache's embedded SQL files.
func NewMigrator(pool *pgxpool.Pool) (*db.Migrator, error) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	return db.NewMigrator(pool, sub, MigrationsTable), nil
}

// EnsureSchema applies the cache's migrations.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	m, err := NewMigrator(s.pool)
	if err != nil {
		return err
	}
	if _, err := m.Up(ctx); err != nil {
		return fmt.Errorf("render cache schema: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	var e Entry
	err := s.pool.QueryRow(ctx,
		`SELECT key, content_type, markup, created_at FROM rendered_documents WHERE key = $1`, key,
	).Scan(&e.Key, &e.ContentType, &e.Markup, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read rendered document: %w", err)
	}
	if s.ttl > 0 && time.Since(e.CreatedAt) > s.ttl {
		return nil, false, nil
	}
	return &e, true, nil
}

func (s *PGStore) Put(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rendered_documents (key, content_type, markup, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE
		SET content_type = EXCLUDED.content_type,
		    markup = EXCLUDED.markup,
		    created_at = EXCLUDED.created_at`,
		e.Key, e.ContentType, e.Markup, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("write rendered document: %w", err)
	}
	return nil
}

// Purge deletes entries created before cutoff and returns how many went.
func (s *PGStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rendered_documents WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge rendered documents: %w", err)
	}
	return tag.RowsAffected(), nil
}
