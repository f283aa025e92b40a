package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrScopeBusy is returned when an extraction run already holds the scope
	ErrScopeBusy = errors.New("processing already in progress")
	// ErrPromptBusy is returned when a prompt is already being processed
	ErrPromptBusy = errors.New("prompt is already processing")
	// ErrPromptCancelled is returned when a cancelled prompt is claimed
	ErrPromptCancelled = errors.New("prompt is cancelled")
)

// DefaultStaleAfter is how long a prompt may stay processing before another
// pass may reclaim it
const DefaultStaleAfter = time.Hour

// Postgres is the relational store for topics, prompts, provider results and mentions
type Postgres struct {
	pool       Pool
	staleAfter time.Duration
}

// NewPostgres connects a pgx pool
func NewPostgres(ctx context.Context, databaseURL string, maxConns int) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &Postgres{pool: pool, staleAfter: DefaultStaleAfter}, nil
}

// NewPostgresWithPool wraps an existing pool
func NewPostgresWithPool(pool Pool) *Postgres {
	return &Postgres{pool: pool, staleAfter: DefaultStaleAfter}
}

// SetStaleAfter changes how long a processing prompt is protected from
// reclaim. A crashed pass leaves its prompts processing until then.
func (p *Postgres) SetStaleAfter(d time.Duration) {
	if d > 0 {
		p.staleAfter = d
	}
}

// staleSecs is the make_interval argument of the stale processing checks
func (p *Postgres) staleSecs() float64 {
	return p.staleAfter.Seconds()
}

// staleProcessing matches processing prompts not touched for the seconds
// bound to param. prefix qualifies the columns, e.g. "p.".
func staleProcessing(prefix, param string) string {
	return fmt.Sprintf(`%[1]sstatus = 'processing' AND %[1]supdated_at < now() - make_interval(secs => %[2]s)`, prefix, param)
}

// Ping checks connectivity
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the pool
func (p *Postgres) Close() {
	p.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS topics (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	name        TEXT NOT NULL,
	logo        TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	is_active   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS prompts (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	topic_id         TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
	content          TEXT NOT NULL,
	region           TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending', 'processing', 'completed', 'failed', 'cancelled')),
	visibility_score DOUBLE PRECISION,
	completed_at     TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS prompts_scope_idx ON prompts (user_id, topic_id, status);

CREATE TABLE IF NOT EXISTS prompt_results (
	id            TEXT PRIMARY KEY,
	prompt_id     TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
	provider      TEXT NOT NULL,
	response      TEXT NOT NULL DEFAULT '',
	results       JSONB NOT NULL DEFAULT '[]',
	metadata      JSONB NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL CHECK (status IN ('completed', 'failed')),
	error_message TEXT,
	completed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (prompt_id, provider)
);

CREATE TABLE IF NOT EXISTS mentions (
	id               TEXT PRIMARY KEY,
	prompt_id        TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
	topic_id         TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
	prompt_result_id TEXT NOT NULL REFERENCES prompt_results(id) ON DELETE CASCADE,
	provider         TEXT NOT NULL,
	mention_type     TEXT NOT NULL CHECK (mention_type IN ('direct', 'indirect', 'competitive')),
	position         INTEGER NOT NULL DEFAULT 0,
	context          TEXT NOT NULL DEFAULT '',
	sentiment        TEXT NOT NULL CHECK (sentiment IN ('positive', 'negative', 'neutral')),
	confidence       DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	extracted_text   TEXT NOT NULL CHECK (extracted_text <> ''),
	competitor_name  TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS mentions_topic_idx ON mentions (topic_id, created_at);
CREATE INDEX IF NOT EXISTS mentions_prompt_idx ON mentions (prompt_id);

CREATE TABLE IF NOT EXISTS extraction_leases (
	scope_key   TEXT PRIMARY KEY,
	holder      TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the schema if it does not exist
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}
