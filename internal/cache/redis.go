package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nadzzz/agrivoice/internal/message"
)

// generationKey holds the flush counter under the cache prefix.
const generationKey = "generation"

// storeScript sets KEYS[1] only while the generation in KEYS[2] still equals ARGV[2].
var storeScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[2] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// RedisCache shares cached answers across instances. Expiry is the redis key TTL.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	tracer trace.Tracer
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCache creates a redis-backed Cache under prefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if client == nil {
		panic("cache: redis client cannot be nil")
	}
	if prefix == "" {
		prefix = "agrivoice:cache:"
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
		tracer: otel.Tracer("agrivoice.internal.cache"),
	}
}

// Lookup fetches and decodes the entry for fingerprint.
func (c *RedisCache) Lookup(ctx context.Context, fingerprint string) (*message.CacheEntry, bool, error) {
	ctx, span := c.tracer.Start(ctx, "cache.lookup")
	defer span.End()

	data, err := c.client.Get(ctx, c.prefix+fingerprint).Bytes()
	if err != nil {
		c.misses.Add(1)
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		span.RecordError(err)
		return nil, false, fmt.Errorf("cache: failed to load entry: %w", err)
	}

	var entry message.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.misses.Add(1)
		span.RecordError(err)
		return nil, false, fmt.Errorf("cache: failed to decode entry: %w", err)
	}
	c.hits.Add(1)
	return &entry, true, nil
}

// Generation reads the shared flush counter. A missing counter is generation 0.
func (c *RedisCache) Generation(ctx context.Context) (uint64, error) {
	gen, err := c.client.Get(ctx, c.prefix+generationKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: failed to read generation: %w", err)
	}
	return gen, nil
}

// Store writes the entry with a redis TTL, atomically checking that no flush
// happened after generation. SET overwrites, so the last writer wins.
func (c *RedisCache) Store(ctx context.Context, fingerprint string, result *message.QueryResult, ttl time.Duration, generation uint64) error {
	ctx, span := c.tracer.Start(ctx, "cache.store")
	defer span.End()

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	data, err := json.Marshal(message.CacheEntry{
		Fingerprint: fingerprint,
		Result:      *result,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("cache: failed to marshal entry: %w", err)
	}
	keys := []string{c.prefix + fingerprint, c.prefix + generationKey}
	ok, err := storeScript.Run(ctx, c.client, keys, data, strconv.FormatUint(generation, 10), ttl.Milliseconds()).Int()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("cache: failed to persist entry: %w", err)
	}
	if ok == 0 {
		return ErrStale
	}
	return nil
}

// Flush advances the generation, then deletes every entry under the cache
// prefix. Stores racing the flush are either rejected or deleted.
func (c *RedisCache) Flush(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "cache.flush")
	defer span.End()

	genKey := c.prefix + generationKey
	if err := c.client.Incr(ctx, genKey).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("cache: failed to advance generation: %w", err)
	}

	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 500).Result()
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("cache: failed to scan keys: %w", err)
		}
		keys = slices.DeleteFunc(keys, func(k string) bool { return k == genKey })
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				span.RecordError(err)
				return fmt.Errorf("cache: failed to delete keys: %w", err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	slog.Info("response cache flushed", "entries", deleted)
	return nil
}

// Stats reports this instance's hit/miss counters. Entries is not tracked.
func (c *RedisCache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Check pings redis.
func (c *RedisCache) Check(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
