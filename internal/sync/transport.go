package sync

import (
	"errors"

	"github.com/imarenge/promptcast/internal/domain"
)

var (
	ErrClosed       = errors.New("transport closed")
	ErrNotConnected = errors.New("transport not connected")
)

// StatusEvent reports a transport lifecycle change.
type StatusEvent struct {
	Connected bool
	// PeerCount is the transport's own notion of how many other parties it
	// reaches, or -1 when the transport has no authoritative count. The relay
	// knows its exact connection count; the local bus does not.
	PeerCount int
	// AssignedID is the identity the relay assigned to this connection,
	// carried on the CONNECTED greeting.
	AssignedID string
	Err        error
}

// Transport is one channel for exchanging messages with peers. Both
// implementations are best-effort and fire-and-forget: Send never blocks on
// remote delivery and inbound messages arrive on a transport-owned goroutine.
type Transport interface {
	Send(msg domain.Message) error
	// Subscribe registers a handler for inbound messages and returns its
	// unsubscribe function.
	Subscribe(fn func(domain.Message)) func()
	// SubscribeStatus registers a handler for connectivity changes and
	// returns its unsubscribe function.
	SubscribeStatus(fn func(StatusEvent)) func()
	Close() error
}
