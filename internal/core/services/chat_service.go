package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/utils"
	"huddle/pkg/validation"

	"go.uber.org/zap"
)

// ChatTopic is the pub/sub topic carrying a room's chat traffic.
func ChatTopic(roomID domain.RoomID) string {
	return "chat:room:" + string(roomID)
}

// ChatConfig bounds history reads and the typing indicator lifetime.
type ChatConfig struct {
	HistoryLimit int

	// TypingTimeout is both the local rebroadcast suppression window and
	// the inactivity delay before STOP_TYPING is sent.
	TypingTimeout time.Duration
}

// ChatService is one room's chat channel: sending, history and the typing
// indicator. Independent of the call lifecycle; chat works while no call is
// active.
type ChatService struct {
	cfg      ChatConfig
	self     domain.ParticipantID
	roomID   domain.RoomID
	pubsub   ports.PubSub
	history  ports.HistoryRepository
	metrics  ports.MetricsRecorder
	notifier ports.Notifier
	logger   *zap.SugaredLogger

	mu          sync.Mutex
	typingSent  bool
	typingTimer *time.Timer
	closed      bool
}

func NewChatService(
	cfg ChatConfig,
	self domain.ParticipantID,
	roomID domain.RoomID,
	pubsub ports.PubSub,
	history ports.HistoryRepository,
	metrics ports.MetricsRecorder,
	notifier ports.Notifier,
	logger *zap.SugaredLogger,
) *ChatService {
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = 2 * time.Second
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 200
	}
	return &ChatService{
		cfg:      cfg,
		self:     self,
		roomID:   roomID,
		pubsub:   pubsub,
		history:  history,
		metrics:  metrics,
		notifier: notifier,
		logger:   logger,
	}
}

// Run consumes the room chat topic until ctx ends, pushing messages to the
// UI and recording them in history. Own messages come back through the topic
// like everyone else's, so the sender renders the same ordering as peers.
func (c *ChatService) Run(ctx context.Context) error {
	ch, cancel, err := c.pubsub.Subscribe(ctx, ChatTopic(c.roomID))
	if err != nil {
		return fmt.Errorf("subscribe chat topic: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			c.handlePayload(ctx, payload)
		}
	}
}

func (c *ChatService) handlePayload(ctx context.Context, payload []byte) {
	var msg domain.ChatMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warnw("dropping malformed chat payload", "room_id", c.roomID, "error", err)
		return
	}

	switch msg.Kind {
	case domain.ChatKindMessage:
		if c.history != nil {
			if err := c.history.Append(ctx, &msg); err != nil {
				c.logger.Warnw("chat history append failed", "room_id", c.roomID, "error", err)
			}
		}
		if c.metrics != nil {
			c.metrics.ChatMessage()
		}
		c.push(ports.UIChatMessage, msg)
	case domain.ChatKindTyping, domain.ChatKindStopped:
		if msg.From == c.self {
			return
		}
		c.push(ports.UITyping, msg)
	default:
		c.logger.Debugw("ignoring chat payload", "kind", msg.Kind)
	}
}

// Send publishes one chat message to the room. The local typing indicator is
// retired immediately; sending implies the draft is gone.
func (c *ChatService) Send(ctx context.Context, body string) (*domain.ChatMessage, error) {
	if err := validation.ValidateChatMessage(body); err != nil {
		return nil, err
	}

	msg := &domain.ChatMessage{
		ID:     utils.GenerateMessageID(),
		RoomID: c.roomID,
		From:   c.self,
		Kind:   domain.ChatKindMessage,
		Body:   body,
		SentAt: time.Now(),
	}
	if err := c.publish(ctx, msg); err != nil {
		return nil, err
	}
	c.stopTyping(ctx)
	return msg, nil
}

// NotifyTyping marks the local participant as typing. The broadcast is
// debounced: repeated keystrokes inside the timeout window extend the
// indicator without republishing, and STOP_TYPING goes out after the window
// closes with no further activity.
func (c *ChatService) NotifyTyping(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	alreadyTyping := c.typingSent
	c.typingSent = true
	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingTimer = time.AfterFunc(c.cfg.TypingTimeout, func() {
		c.stopTyping(context.Background())
	})
	c.mu.Unlock()

	if alreadyTyping {
		return
	}
	msg := &domain.ChatMessage{
		RoomID: c.roomID,
		From:   c.self,
		Kind:   domain.ChatKindTyping,
		SentAt: time.Now(),
	}
	if err := c.publish(ctx, msg); err != nil {
		c.logger.Warnw("typing broadcast failed", "room_id", c.roomID, "error", err)
	}
}

func (c *ChatService) stopTyping(ctx context.Context) {
	c.mu.Lock()
	wasTyping := c.typingSent
	c.typingSent = false
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.mu.Unlock()

	if !wasTyping {
		return
	}
	msg := &domain.ChatMessage{
		RoomID: c.roomID,
		From:   c.self,
		Kind:   domain.ChatKindStopped,
		SentAt: time.Now(),
	}
	if err := c.publish(ctx, msg); err != nil {
		c.logger.Warnw("stop-typing broadcast failed", "room_id", c.roomID, "error", err)
	}
}

// History returns the most recent messages for the room, oldest first.
func (c *ChatService) History(ctx context.Context) ([]*domain.ChatMessage, error) {
	if c.history == nil {
		return nil, nil
	}
	return c.history.Recent(ctx, c.roomID, c.cfg.HistoryLimit)
}

// Close retires the typing indicator so no timer fires after the room
// session is gone. Idempotent.
func (c *ChatService) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	wasTyping := c.typingSent
	c.typingSent = false
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.mu.Unlock()

	if wasTyping {
		msg := &domain.ChatMessage{
			RoomID: c.roomID,
			From:   c.self,
			Kind:   domain.ChatKindStopped,
			SentAt: time.Now(),
		}
		if err := c.publish(context.Background(), msg); err != nil {
			c.logger.Debugw("stop-typing on close failed", "error", err)
		}
	}
}

func (c *ChatService) publish(ctx context.Context, msg *domain.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}
	return c.pubsub.Publish(ctx, ChatTopic(c.roomID), payload)
}

func (c *ChatService) push(eventType string, msg domain.ChatMessage) {
	if c.notifier == nil {
		return
	}
	c.notifier.Publish(ports.UIEvent{Type: eventType, RoomID: c.roomID, Payload: msg})
}
