package ports

import "huddle/internal/core/domain"

// UI event types pushed to the browser over the WebSocket hub.
const (
	UICallState     = "call_state"
	UIStreamAdded   = "stream_added"
	UIStreamRemoved = "stream_removed"
	UIChatMessage   = "chat_message"
	UITyping        = "typing"
)

// UIEvent is one reactive-state update for the presentation layer.
type UIEvent struct {
	Type    string        `json:"type"`
	RoomID  domain.RoomID `json:"room_id,omitempty"`
	Payload interface{}   `json:"payload,omitempty"`
}

// Notifier pushes UI events; delivery is best-effort and must never block
// the caller.
type Notifier interface {
	Publish(ev UIEvent)
}
