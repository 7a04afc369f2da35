package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const cacheSize = 1024

type PostgresStore struct {
	db *sql.DB

	schemaMu    sync.Mutex
	schemaReady bool

	cache *lru.Cache[string, Analysis]
}

// OpenPostgres connects through the pgx database/sql driver and pings once.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s, err := NewPostgresStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	cache, err := lru.New[string, Analysis](cacheSize)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, cache: cache}, nil
}

// DB returns the underlying handle for stores that share the connection.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// ensureSchema creates the table on first use. A failed attempt is retried
// by the next call.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS analyses (
  id TEXT PRIMARY KEY,
  repo_id TEXT NOT NULL DEFAULT '',
  prompt TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  output TEXT NOT NULL DEFAULT '',
  included JSONB NOT NULL DEFAULT '[]'::jsonb,
  omitted JSONB NOT NULL DEFAULT '[]'::jsonb,
  used_chars INTEGER NOT NULL DEFAULT 0,
  max_chars INTEGER NOT NULL DEFAULT 0,
  attempts INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_analyses_repo_id ON analyses (repo_id, created_at DESC);
`); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	s.schemaReady = true
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, a Analysis) error {
	n, err := normalize(a)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	included, err := json.Marshal(n.Included)
	if err != nil {
		return err
	}
	omitted, err := json.Marshal(n.Omitted)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO analyses (id, repo_id, prompt, model, output, included, omitted, used_chars, max_chars, attempts, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id)
DO UPDATE SET repo_id=EXCLUDED.repo_id,
  prompt=EXCLUDED.prompt,
  model=EXCLUDED.model,
  output=EXCLUDED.output,
  included=EXCLUDED.included,
  omitted=EXCLUDED.omitted,
  used_chars=EXCLUDED.used_chars,
  max_chars=EXCLUDED.max_chars,
  attempts=EXCLUDED.attempts`,
		n.ID, n.RepoID, n.Prompt, n.Model, n.Output, string(included), string(omitted),
		n.UsedChars, n.MaxChars, n.Attempts, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("put analysis %s: %w", n.ID, err)
	}
	s.cache.Add(n.ID, clone(n))
	return nil
}

const selectColumns = `SELECT id, repo_id, prompt, model, output, included, omitted, used_chars, max_chars, attempts, created_at
FROM analyses`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	var (
		a                 Analysis
		included, omitted []byte
	)
	if err := row.Scan(&a.ID, &a.RepoID, &a.Prompt, &a.Model, &a.Output, &included, &omitted,
		&a.UsedChars, &a.MaxChars, &a.Attempts, &a.CreatedAt); err != nil {
		return Analysis{}, err
	}
	if err := json.Unmarshal(included, &a.Included); err != nil {
		return Analysis{}, fmt.Errorf("decode included: %w", err)
	}
	if err := json.Unmarshal(omitted, &a.Omitted); err != nil {
		return Analysis{}, fmt.Errorf("decode omitted: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Analysis, error) {
	id = strings.TrimSpace(id)
	if a, ok := s.cache.Get(id); ok {
		return clone(a), nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return Analysis{}, err
	}
	a, err := scanAnalysis(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Analysis{}, ErrNotFound
	}
	if err != nil {
		return Analysis{}, err
	}
	s.cache.Add(a.ID, a)
	return clone(a), nil
}

func (s *PostgresStore) ListByRepo(ctx context.Context, repoID string, limit int) ([]Analysis, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+`
WHERE repo_id = $1
ORDER BY created_at DESC, id
LIMIT $2`, strings.TrimSpace(repoID), lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Analysis, 0, 16)
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.cache.Purge()
	return s.db.Close()
}
