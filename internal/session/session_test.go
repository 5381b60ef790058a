package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/agrivoice/internal/message"
)

func turn(i int) message.Turn {
	return message.Turn{
		Question: fmt.Sprintf("q%d", i),
		Answer:   fmt.Sprintf("a%d", i),
		Language: "en",
		At:       time.Unix(int64(i), 0),
	}
}

func questions(turns []message.Turn) []string {
	out := make([]string, len(turns))
	for i, t := range turns {
		out[i] = t.Question
	}
	return out
}

// storeContract runs the window and ordering checks against any Store.
func storeContract(t *testing.T, s Store, window int) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Recent(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	for i := 1; i <= window*3; i++ {
		require.NoError(t, s.Append(ctx, "farmer-1", turn(i)))
		got, err := s.Recent(ctx, "farmer-1")
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), window)
	}

	got, err = s.Recent(ctx, "farmer-1")
	require.NoError(t, err)
	want := make([]string, 0, window)
	for i := window*2 + 1; i <= window*3; i++ {
		want = append(want, fmt.Sprintf("q%d", i))
	}
	assert.Equal(t, want, questions(got), "most recent turns, oldest first")
	assert.Equal(t, "farmer-1", got[0].SessionID)

	require.NoError(t, s.Append(ctx, "farmer-2", turn(100)))
	other, err := s.Recent(ctx, "farmer-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"q100"}, questions(other))

	require.NoError(t, s.Clear(ctx, "farmer-1"))
	got, err = s.Recent(ctx, "farmer-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemoryStore(5, time.Hour), 5)
}

func TestMemoryStoreDefaultWindow(t *testing.T) {
	storeContract(t, NewMemoryStore(0, 0), DefaultWindow)
}

func TestRedisStoreContract(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	storeContract(t, NewRedisStore(client, 5, time.Hour, ""), 5)
}

func TestRedisStoreIdleExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client, 5, time.Minute, "test:")
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "s1", turn(1)))
	assert.True(t, mr.Exists("test:s1"))

	mr.FastForward(2 * time.Minute)
	got, err := s.Recent(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, s.Check(ctx))
}

func TestMemoryStoreConcurrentAppends(t *testing.T) {
	s := NewMemoryStore(5, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.Append(ctx, "shared", turn(i)))
		}(i)
	}
	wg.Wait()

	got, err := s.Recent(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, got, 5)
	seen := map[string]bool{}
	for _, tr := range got {
		assert.False(t, seen[tr.Question], "turn appended twice")
		seen[tr.Question] = true
	}
}

func TestMemoryStoreEvictIdle(t *testing.T) {
	s := NewMemoryStore(5, time.Hour)
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "old", turn(1)))
	now = base.Add(90 * time.Minute)
	require.NoError(t, s.Append(ctx, "fresh", turn(2)))

	removed := s.EvictIdle(base.Add(2 * time.Hour))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())

	got, _ := s.Recent(ctx, "old")
	assert.Empty(t, got)

	// A session evicted mid-flight is recreated on the next append.
	require.NoError(t, s.Append(ctx, "old", turn(3)))
	got, _ = s.Recent(ctx, "old")
	assert.Equal(t, []string{"q3"}, questions(got))
}

func TestMemoryStoreAppendHonoursCancellation(t *testing.T) {
	s := NewMemoryStore(5, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Append(ctx, "s", turn(1)))
	assert.Zero(t, s.Len())
}
