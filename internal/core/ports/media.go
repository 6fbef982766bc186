package ports

import (
	"context"

	"huddle/internal/core/domain"
)

// SessionEvents are the handlers a session owner registers when opening the
// local peer-session handle. All callbacks may fire from transport
// goroutines; handlers must do their own synchronization.
type SessionEvents struct {
	// OnReady fires once the session identity is confirmed on the
	// signaling side and the session can place and receive calls.
	OnReady func()

	// OnInboundCall fires for each call offered by a remote participant.
	OnInboundCall func(call IncomingCall)

	// OnError reports a transport-layer failure. No automatic recovery is
	// attempted by the transport.
	OnError func(err error)

	// OnDisconnected fires when the session loses its transport and can no
	// longer place calls. Recovery is the owner's policy decision.
	OnDisconnected func()
}

// CallEvents are the handlers for one peer-to-peer call.
type CallEvents struct {
	OnStream func(stream domain.RemoteStream)
	OnClose  func()
	OnError  func(err error)
}

// MediaTransport opens peer-media sessions keyed by the local identity.
type MediaTransport interface {
	OpenSession(ctx context.Context, self domain.ParticipantID, ev SessionEvents) (MediaSession, error)
}

// MediaSession is the local peer-session handle. At most one live handle
// exists per Room Session.
type MediaSession interface {
	// Call opens an outbound media call to target, sending the local stream.
	Call(ctx context.Context, target domain.ParticipantID, local domain.LocalStream, ev CallEvents) (CallHandle, error)

	// Close hangs up every call owned by the session. Idempotent.
	Close() error
}

// IncomingCall is an inbound offer awaiting an answer.
type IncomingCall interface {
	From() domain.ParticipantID
	Answer(local domain.LocalStream, ev CallEvents) (CallHandle, error)
	Reject() error
}

// CallHandle is one established or in-flight call with a single peer.
type CallHandle interface {
	Peer() domain.ParticipantID
	Direction() domain.CallDirection
	Close() error
}
