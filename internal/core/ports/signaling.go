package ports

import (
	"context"

	"huddle/internal/core/domain"
)

// Signaling message types exchanged on room topics.
const (
	SignalJoin     = "JOIN"
	SignalLeave    = "LEAVE"
	SignalGetUsers = "GET_USERS"
	SignalUserList = "USER_LIST"
)

// SignalingEvent is one control message on the signaling channel.
type SignalingEvent struct {
	Type string                 `json:"type"`
	From domain.ParticipantID   `json:"from,omitempty"`
	Data []domain.ParticipantID `json:"data,omitempty"`
}

// PubSub is the black-box topic-based messaging primitive: best-effort
// delivery, per-topic ordering, reconnect owned by the implementation.
type PubSub interface {
	// Publish is fire-and-forget from the caller's perspective; the
	// transport owns its own retry/backoff.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe delivers raw payloads for one topic until cancel is called
	// or ctx ends. The returned channel is closed on cancel.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error)

	Status() domain.ConnStatus

	// OnStatusChange registers a listener for status transitions and
	// returns an unregister func.
	OnStatusChange(fn func(domain.ConnStatus)) func()
}

// SignalingChannel is the typed room-scoped signaling surface. The adapter
// re-establishes subscriptions whenever the status transitions into
// connected, and drops malformed payloads without crashing the subscriber.
type SignalingChannel interface {
	Status() domain.ConnStatus
	OnStatusChange(fn func(domain.ConnStatus)) func()

	// SubscribeRoom delivers broadcast events (JOIN/LEAVE) for a room.
	SubscribeRoom(ctx context.Context, roomID domain.RoomID) (<-chan SignalingEvent, func(), error)

	// SubscribeInbox delivers private events (USER_LIST) addressed to self.
	SubscribeInbox(ctx context.Context, self domain.ParticipantID) (<-chan SignalingEvent, func(), error)

	PublishRoom(ctx context.Context, roomID domain.RoomID, ev SignalingEvent) error

	// PublishControl routes a command (GET_USERS) to the roster responder.
	PublishControl(ctx context.Context, roomID domain.RoomID, ev SignalingEvent) error

	PublishUser(ctx context.Context, to domain.ParticipantID, ev SignalingEvent) error
}
