package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nadzzz/agrivoice/internal/message"
)

// MemoryCache is an in-process Cache with lazy expiry.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*message.CacheEntry
	gen     uint64
	hits    atomic.Int64
	misses  atomic.Int64
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*message.CacheEntry),
		now:     time.Now,
	}
}

// Lookup returns a copy of the live entry for fingerprint.
func (c *MemoryCache) Lookup(_ context.Context, fingerprint string) (*message.CacheEntry, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()

	if !ok || e.Expired(c.now()) {
		c.misses.Add(1)
		return nil, false, nil
	}
	c.hits.Add(1)
	out := *e
	out.Result = *e.Result.Clone()
	return &out, true, nil
}

// Generation returns the number of flushes so far.
func (c *MemoryCache) Generation(context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen, nil
}

// Store commits a full result unless the cache was flushed after generation.
// The stored value is a private copy.
func (c *MemoryCache) Store(_ context.Context, fingerprint string, result *message.QueryResult, ttl time.Duration, generation uint64) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := c.now()
	entry := &message.CacheEntry{
		Fingerprint: fingerprint,
		Result:      *result.Clone(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != generation {
		return ErrStale
	}
	c.entries[fingerprint] = entry
	return nil
}

// Flush drops every entry and advances the generation.
func (c *MemoryCache) Flush(context.Context) error {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*message.CacheEntry)
	c.gen++
	c.mu.Unlock()
	slog.Info("response cache flushed", "entries", n)
	return nil
}

// Sweep removes expired entries and returns how many were removed.
func (c *MemoryCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for fp, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, fp)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (c *MemoryCache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(c.now()); n > 0 {
				slog.Debug("swept expired cache entries", "count", n)
			}
		}
	}
}

// Stats reports hit/miss counters and the current entry count.
func (c *MemoryCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: n}
}

// Check always succeeds for the in-process cache.
func (c *MemoryCache) Check(context.Context) error { return nil }
