package domain

import "time"

// ChatMessageKind distinguishes chat payloads on the room chat topic.
type ChatMessageKind string

const (
	ChatKindMessage ChatMessageKind = "CHAT"
	ChatKindTyping  ChatMessageKind = "TYPING"
	ChatKindStopped ChatMessageKind = "STOP_TYPING"
)

type ChatMessage struct {
	ID     string          `json:"id"`
	RoomID RoomID          `json:"room_id"`
	From   ParticipantID   `json:"from"`
	Kind   ChatMessageKind `json:"kind"`
	Body   string          `json:"body,omitempty"`
	SentAt time.Time       `json:"sent_at"`
}
