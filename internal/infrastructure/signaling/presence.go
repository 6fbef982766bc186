package signaling

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ResponderConfig tunes the roster responder.
type ResponderConfig struct {
	// RosterTTL bounds how long a room roster survives without any
	// join/leave traffic, so crashed clients age out.
	RosterTTL time.Duration
}

// Responder is the roster authority: it watches every room's broadcast
// topic to maintain the shared roster, and answers GET_USERS commands with
// a USER_LIST sent to the asker's private inbox. Clients stay symmetric;
// nobody in a room is special.
type Responder struct {
	cfg     ResponderConfig
	client  *redis.Client
	channel ports.SignalingChannel
	roster  ports.RosterRepository
	logger  *zap.SugaredLogger
}

func NewResponder(
	cfg ResponderConfig,
	client *redis.Client,
	channel ports.SignalingChannel,
	roster ports.RosterRepository,
	logger *zap.SugaredLogger,
) *Responder {
	if cfg.RosterTTL <= 0 {
		cfg.RosterTTL = 90 * time.Second
	}
	return &Responder{
		cfg:     cfg,
		client:  client,
		channel: channel,
		roster:  roster,
		logger:  logger,
	}
}

// Run consumes the room and control topic patterns until ctx ends. Pattern
// subscriptions bypass the typed channel because they span all rooms.
func (r *Responder) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, "signal:room:*", "signal:control:*")
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Infow("roster responder started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

func (r *Responder) handle(ctx context.Context, topic string, payload []byte) {
	var ev ports.SignalingEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.Warnw("dropping malformed payload", "topic", topic, "error", err)
		return
	}

	switch {
	case strings.HasPrefix(topic, "signal:room:"):
		roomID := domain.RoomID(strings.TrimPrefix(topic, "signal:room:"))
		r.handleBroadcast(ctx, roomID, ev)
	case strings.HasPrefix(topic, "signal:control:"):
		roomID := domain.RoomID(strings.TrimPrefix(topic, "signal:control:"))
		r.handleControl(ctx, roomID, ev)
	}
}

func (r *Responder) handleBroadcast(ctx context.Context, roomID domain.RoomID, ev ports.SignalingEvent) {
	if ev.From == "" {
		return
	}
	switch ev.Type {
	case ports.SignalJoin:
		if err := r.roster.Add(ctx, roomID, ev.From); err != nil {
			r.logger.Warnw("roster add failed", "room_id", roomID, "participant", ev.From, "error", err)
			return
		}
		r.touch(ctx, roomID)
	case ports.SignalLeave:
		if err := r.roster.Remove(ctx, roomID, ev.From); err != nil {
			r.logger.Warnw("roster remove failed", "room_id", roomID, "participant", ev.From, "error", err)
			return
		}
		r.touch(ctx, roomID)
	}
}

func (r *Responder) handleControl(ctx context.Context, roomID domain.RoomID, ev ports.SignalingEvent) {
	if ev.Type != ports.SignalGetUsers || ev.From == "" {
		return
	}

	members, err := r.roster.Members(ctx, roomID)
	if err != nil {
		r.logger.Warnw("roster read failed", "room_id", roomID, "error", err)
		return
	}

	reply := ports.SignalingEvent{Type: ports.SignalUserList, Data: members}
	if err := r.channel.PublishUser(ctx, ev.From, reply); err != nil {
		r.logger.Warnw("user list reply failed", "room_id", roomID, "to", ev.From, "error", err)
		return
	}
	r.logger.Debugw("answered roster request", "room_id", roomID, "to", ev.From, "count", len(members))
}

func (r *Responder) touch(ctx context.Context, roomID domain.RoomID) {
	if err := r.roster.Touch(ctx, roomID); err != nil {
		r.logger.Debugw("roster touch failed", "room_id", roomID, "error", err)
	}
}
