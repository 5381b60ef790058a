// Package session keeps the rolling window of recent conversation turns per
// session. Turns are append-only; the oldest turn is dropped once a session
// holds more than the configured window.
package session

import (
	"context"

	"github.com/nadzzz/agrivoice/internal/message"
)

// DefaultWindow is the number of turns retained per session.
const DefaultWindow = 5

// Store is a per-session bounded turn log.
type Store interface {
	// Append records a turn. Appends to one session are serialized.
	Append(ctx context.Context, sessionID string, turn message.Turn) error

	// Recent returns at most the window of turns, oldest first.
	Recent(ctx context.Context, sessionID string) ([]message.Turn, error)

	// Clear drops a session.
	Clear(ctx context.Context, sessionID string) error
}
