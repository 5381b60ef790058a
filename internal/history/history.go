// Package history persists completed queries in Postgres for analytics and
// audit. Recording is best effort; the pipeline never waits on it for
// correctness.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nadzzz/agrivoice/internal/message"
)

const schema = `
CREATE TABLE IF NOT EXISTS query_history (
	query_id           TEXT PRIMARY KEY,
	session_id         TEXT NOT NULL,
	user_id            TEXT NOT NULL DEFAULT '',
	language           TEXT NOT NULL,
	question           TEXT NOT NULL,
	answer             TEXT NOT NULL,
	intent             TEXT NOT NULL DEFAULT '',
	success            BOOLEAN NOT NULL,
	error_kind         TEXT NOT NULL DEFAULT '',
	from_cache         BOOLEAN NOT NULL DEFAULT FALSE,
	processing_time_ms BIGINT NOT NULL,
	sources            JSONB NOT NULL DEFAULT '[]',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertQuery = `
	INSERT INTO query_history (
		query_id, session_id, user_id, language, question, answer, intent,
		success, error_kind, from_cache, processing_time_ms, sources, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (query_id) DO NOTHING
`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// Store writes query outcomes to the query_history table.
type Store struct {
	db  execer
	now func() time.Time
}

// New creates a Store on pool.
func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("history: pgx pool required")
	}
	return newWithExec(pool)
}

func newWithExec(db execer) *Store {
	return &Store{db: db, now: time.Now}
}

// Connect opens a pool for databaseURL and ensures the schema exists.
func Connect(ctx context.Context, databaseURL string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("history: connect: %w", err)
	}
	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// EnsureSchema creates the history table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("history: ensure schema: %w", err)
	}
	return nil
}

// Record stores the outcome of q. Re-recording a query ID is a no-op.
func (s *Store) Record(ctx context.Context, q *message.Query, r *message.QueryResult) error {
	question := r.Query
	if question == "" {
		question = r.TranscribedText
	}
	sources := r.Sources
	if sources == nil {
		sources = []message.Source{}
	}
	encoded, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("history: encode sources: %w", err)
	}

	_, err = s.db.Exec(ctx, insertQuery,
		r.QueryID, r.SessionID, q.UserID, r.Language, question, r.AnswerText, r.Intent,
		r.Success, string(r.ErrorKind), r.FromCache, r.ProcessingTimeMs, encoded, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("history: record %s: %w", r.QueryID, err)
	}
	return nil
}

// Check pings the database.
func (s *Store) Check(ctx context.Context) error {
	return s.db.Ping(ctx)
}
