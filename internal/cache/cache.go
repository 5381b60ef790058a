// Package cache stores complete query results keyed by a fingerprint of the
// normalised pivot question and its target language.
//
// The cache is advisory. A missing or stale entry only costs latency, so
// callers treat lookup errors as misses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/nadzzz/agrivoice/internal/message"
)

// DefaultTTL is how long an answer stays servable.
const DefaultTTL = 24 * time.Hour

// ErrStale is returned by Store when the cache was flushed after the
// caller read its generation.
var ErrStale = errors.New("cache: flushed since generation was read")

// Cache is a fingerprint-keyed response store. Concurrent stores to one
// fingerprint resolve last-writer-wins.
//
// Every Flush advances the generation. A result computed from state read
// before a flush must not outlive it, so callers read Generation before
// they start and pass it to Store, which refuses stale writes.
type Cache interface {
	Lookup(ctx context.Context, fingerprint string) (*message.CacheEntry, bool, error)
	Generation(ctx context.Context) (uint64, error)
	Store(ctx context.Context, fingerprint string, result *message.QueryResult, ttl time.Duration, generation uint64) error
	Flush(ctx context.Context) error
}

// Stats counts lookups since start or the last reset.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// Normalize case-folds text and collapses runs of whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(cases.Fold().String(text)), " ")
}

// Fingerprint hashes the normalised pivot question with the target language.
func Fingerprint(pivotText, language string) string {
	h := sha256.New()
	h.Write([]byte(Normalize(pivotText)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(language))))
	return hex.EncodeToString(h.Sum(nil))
}
