package ports

import (
	"context"

	"meshcall/internal/core/domain"
)

// SignalTransport is the out-of-band channel the mesh manager uses for SDP
// offers/answers, ICE candidates and presence announcements.
type SignalTransport interface {
	// Connect establishes the session. A connect already in flight makes
	// this a no-op.
	Connect(ctx context.Context) error

	// Close tears the session down permanently; no reconnect follows.
	Close() error

	// Send delivers an outbound payload when the socket is open, or
	// buffers it for a later flush and reports failure to the caller.
	Send(ctx context.Context, payload any) error

	// OnMessage registers a handler for inbound application messages.
	// The returned function unregisters it. Messages queued before the
	// first registration are delivered on registration.
	OnMessage(fn func(msg *domain.InboundMessage)) (unregister func())

	// IsConnected reports whether the socket is currently open.
	IsConnected() bool
}

// PresenceRepository tracks room membership for the signaling relay.
type PresenceRepository interface {
	Join(ctx context.Context, roomID string, p domain.Participant) error
	Leave(ctx context.Context, roomID, userID string) error
	List(ctx context.Context, roomID string) ([]domain.Participant, error)
}
