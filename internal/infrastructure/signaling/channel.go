package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"go.uber.org/zap"
)

// Topic layout on the pub/sub transport.
func RoomTopic(roomID domain.RoomID) string    { return "signal:room:" + string(roomID) }
func ControlTopic(roomID domain.RoomID) string { return "signal:control:" + string(roomID) }
func UserTopic(p domain.ParticipantID) string  { return "signal:user:" + string(p) }

// Channel is the typed signaling surface over the raw pub/sub transport. It
// encodes events as JSON envelopes and drops malformed inbound payloads
// with a log line rather than surfacing them to subscribers.
type Channel struct {
	pubsub ports.PubSub
	logger *zap.SugaredLogger
}

func NewChannel(pubsub ports.PubSub, logger *zap.SugaredLogger) *Channel {
	return &Channel{pubsub: pubsub, logger: logger}
}

func (c *Channel) Status() domain.ConnStatus {
	return c.pubsub.Status()
}

func (c *Channel) OnStatusChange(fn func(domain.ConnStatus)) func() {
	return c.pubsub.OnStatusChange(fn)
}

func (c *Channel) SubscribeRoom(ctx context.Context, roomID domain.RoomID) (<-chan ports.SignalingEvent, func(), error) {
	return c.subscribe(ctx, RoomTopic(roomID))
}

func (c *Channel) SubscribeInbox(ctx context.Context, self domain.ParticipantID) (<-chan ports.SignalingEvent, func(), error) {
	return c.subscribe(ctx, UserTopic(self))
}

func (c *Channel) subscribe(ctx context.Context, topic string) (<-chan ports.SignalingEvent, func(), error) {
	raw, cancel, err := c.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan ports.SignalingEvent, 64)
	go func() {
		defer close(out)
		for payload := range raw {
			var ev ports.SignalingEvent
			if err := json.Unmarshal(payload, &ev); err != nil {
				c.logger.Warnw("dropping malformed signaling payload", "topic", topic, "error", err)
				continue
			}
			if ev.Type == "" {
				c.logger.Warnw("dropping signaling payload without type", "topic", topic)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, cancel, nil
}

func (c *Channel) PublishRoom(ctx context.Context, roomID domain.RoomID, ev ports.SignalingEvent) error {
	return c.publish(ctx, RoomTopic(roomID), ev)
}

func (c *Channel) PublishControl(ctx context.Context, roomID domain.RoomID, ev ports.SignalingEvent) error {
	return c.publish(ctx, ControlTopic(roomID), ev)
}

func (c *Channel) PublishUser(ctx context.Context, to domain.ParticipantID, ev ports.SignalingEvent) error {
	return c.publish(ctx, UserTopic(to), ev)
}

func (c *Channel) publish(ctx context.Context, topic string, ev ports.SignalingEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode signaling event: %w", err)
	}
	return c.pubsub.Publish(ctx, topic, payload)
}

var _ ports.SignalingChannel = (*Channel)(nil)
