package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nadzzz/agrivoice/internal/message"
)

type ring struct {
	mu         sync.Mutex
	turns      []message.Turn
	start      int
	size       int
	lastActive time.Time
	evicted    bool
}

func (r *ring) push(t message.Turn) {
	if r.size < len(r.turns) {
		r.turns[(r.start+r.size)%len(r.turns)] = t
		r.size++
		return
	}
	r.turns[r.start] = t
	r.start = (r.start + 1) % len(r.turns)
}

func (r *ring) snapshot() []message.Turn {
	out := make([]message.Turn, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.turns[(r.start+i)%len(r.turns)]
	}
	return out
}

// MemoryStore is an in-process Store with ring buffers per session.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*ring
	window   int
	idleTTL  time.Duration
	now      func() time.Time
}

// NewMemoryStore creates a store keeping window turns per session. Sessions
// idle for longer than idleTTL are removed by EvictIdle; zero disables eviction.
func NewMemoryStore(window int, idleTTL time.Duration) *MemoryStore {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryStore{
		sessions: make(map[string]*ring),
		window:   window,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

func (s *MemoryStore) session(id string) *ring {
	s.mu.RLock()
	r, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.sessions[id]; ok {
		return r
	}
	r = &ring{turns: make([]message.Turn, s.window)}
	s.sessions[id] = r
	return r
}

// Append records a turn, evicting the oldest when the window is full.
func (s *MemoryStore) Append(ctx context.Context, sessionID string, turn message.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		r := s.session(sessionID)
		r.mu.Lock()
		if r.evicted {
			// Lost a race with EvictIdle; the next lookup creates a fresh ring.
			r.mu.Unlock()
			continue
		}
		turn.SessionID = sessionID
		r.push(turn)
		r.lastActive = s.now()
		r.mu.Unlock()
		return nil
	}
}

// Recent returns the retained turns, oldest first.
func (s *MemoryStore) Recent(_ context.Context, sessionID string) ([]message.Turn, error) {
	s.mu.RLock()
	r, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), nil
}

// Clear drops a session.
func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	r, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if ok {
		r.mu.Lock()
		r.evicted = true
		r.mu.Unlock()
	}
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// EvictIdle removes sessions with no activity since idleTTL before now and
// returns how many were removed.
func (s *MemoryStore) EvictIdle(now time.Time) int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, r := range s.sessions {
		r.mu.Lock()
		if r.lastActive.Before(cutoff) {
			r.evicted = true
			delete(s.sessions, id)
			removed++
		}
		r.mu.Unlock()
	}
	return removed
}

// Run evicts idle sessions every interval until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(s.now()); n > 0 {
				slog.Debug("evicted idle sessions", "count", n)
			}
		}
	}
}

// Check always succeeds for the in-process store.
func (s *MemoryStore) Check(context.Context) error { return nil }
