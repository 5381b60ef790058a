package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nadzzz/agrivoice/internal/message"
)

// RedisStore keeps each session as a capped redis list so turns survive restarts.
// Idle eviction is the key TTL, refreshed on every append.
type RedisStore struct {
	client  redis.UniversalClient
	window  int
	idleTTL time.Duration
	prefix  string
	tracer  trace.Tracer
}

// NewRedisStore creates a redis-backed Store.
func NewRedisStore(client redis.UniversalClient, window int, idleTTL time.Duration, prefix string) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if prefix == "" {
		prefix = "agrivoice:session:"
	}
	return &RedisStore{
		client:  client,
		window:  window,
		idleTTL: idleTTL,
		prefix:  prefix,
		tracer:  otel.Tracer("agrivoice.internal.session"),
	}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Append pushes and trims in one MULTI so concurrent appends cannot interleave a trim.
func (s *RedisStore) Append(ctx context.Context, sessionID string, turn message.Turn) error {
	ctx, span := s.tracer.Start(ctx, "session.append")
	defer span.End()

	turn.SessionID = sessionID
	data, err := json.Marshal(turn)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to marshal turn: %w", err)
	}

	key := s.key(sessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.LTrim(ctx, key, int64(-s.window), -1)
		if s.idleTTL > 0 {
			pipe.Expire(ctx, key, s.idleTTL)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("session: failed to append turn: %w", err)
	}
	return nil
}

// Recent returns the retained turns, oldest first.
func (s *RedisStore) Recent(ctx context.Context, sessionID string) ([]message.Turn, error) {
	ctx, span := s.tracer.Start(ctx, "session.recent")
	defer span.End()

	raw, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("session: failed to load turns: %w", err)
	}

	turns := make([]message.Turn, 0, len(raw))
	for _, item := range raw {
		var t message.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("session: failed to decode turn: %w", err)
		}
		turns = append(turns, t)
	}
	if len(turns) > s.window {
		turns = turns[len(turns)-s.window:]
	}
	return turns, nil
}

// Clear drops a session.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("session: failed to clear: %w", err)
	}
	return nil
}

// Check pings redis.
func (s *RedisStore) Check(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
