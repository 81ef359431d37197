// Package realtime multiplexes a single push connection into order, table
// and restaurant rooms that survive reconnects, and turns server events into
// notifications and invalidation ticks.
package realtime

import (
	"context"
	"encoding/json"
)

// Emitter sends a client event on the live connection.
type Emitter interface {
	Emit(event string, payload any) error
}

// Handler receives connection lifecycle and server events from a Transport.
// Events of one room arrive in order; a Handler must be safe for concurrent
// use.
type Handler interface {
	Connected(em Emitter)
	Disconnected(err error)
	Received(event string, data json.RawMessage)
}

// Transport owns the physical connection and its reconnect policy.
type Transport interface {
	// Run connects and keeps reconnecting until ctx is done.
	Run(ctx context.Context, h Handler) error
	Close() error
}
