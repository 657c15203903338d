// Package transport defines the media-layer boundary. Once signaling
// reaches "accepted" both sides hand a room ID and their identity to a
// Transport and stop owning the data path. The signaling core never
// inspects tracks, codecs, or ICE details; any implementation exposing
// this surface satisfies the contract.
package transport

import (
	"context"
	"errors"

	"github.com/observer/dialtone/internal/signal"
)

// ErrFailed marks a transport session that reported failure after the
// handoff. Signaling treats it as call-ended; no further signal writes are
// needed since the store entries were already scheduled for cleanup.
var ErrFailed = errors.New("transport session failed")

// Event is a transport session lifecycle event.
type Event string

const (
	EventConnected    Event = "connected"
	EventDisconnected Event = "disconnected"
	EventFailed       Event = "failed"
)

// Session is an established (or establishing) media session.
type Session interface {
	// On registers a handler for a lifecycle event. Multiple handlers per
	// event are allowed; each fires at most once per occurrence.
	On(event Event, handler func())

	// SetMicrophoneEnabled mutes or unmutes the outgoing audio.
	SetMicrophoneEnabled(enabled bool) error

	// SetCameraEnabled adds or removes the outgoing video.
	SetCameraEnabled(enabled bool) error

	// Disconnect tears the session down. Idempotent.
	Disconnect() error
}

// Transport establishes media sessions. Implementations must be safe for
// concurrent use.
type Transport interface {
	// Connect joins the given room as identity with the declared initial
	// media intent. The returned session may still be negotiating; wait
	// for EventConnected.
	Connect(ctx context.Context, roomID, identity string, media signal.CallType) (Session, error)
}

// eventHub is a small helper for Session implementations: thread-safety is
// the caller's concern (guard with the session's own mutex).
type eventHub struct {
	handlers map[Event][]func()
}

func newEventHub() *eventHub {
	return &eventHub{handlers: make(map[Event][]func())}
}

func (h *eventHub) on(event Event, fn func()) {
	h.handlers[event] = append(h.handlers[event], fn)
}

// fire returns the handlers to invoke so callers can release locks first.
func (h *eventHub) fire(event Event) []func() {
	return h.handlers[event]
}
