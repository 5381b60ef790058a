// Package transport defines the interface for pluggable query transports.
//
// Each transport (gRPC, HTTP/WebSocket, MQTT) implements this interface and
// hands incoming queries to the pipeline. The pipeline doesn't care how
// queries arrive; it only works with the Transport contract.
package transport

import (
	"context"

	"github.com/nadzzz/agrivoice/internal/message"
)

// Handler processes an incoming query and returns its result. It never
// returns nil; failures are reported inside the result.
type Handler func(ctx context.Context, q *message.Query) *message.QueryResult

// Transport is the interface that every transport adapter must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "grpc", "http", "mqtt").
	Name() string

	// Listen starts accepting incoming queries and passes them to the handler.
	// It blocks until the context is cancelled.
	Listen(ctx context.Context, handler Handler) error

	// Close gracefully shuts down the transport, draining in-flight work.
	Close() error
}

// Flusher drops every cached answer. Transports call it when they receive a
// documents-ingested event.
type Flusher func(ctx context.Context) error
