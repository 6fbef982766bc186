package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// HistoryRepository keeps per-room chat history in a capped Redis list.
type HistoryRepository struct {
	client *redis.Client
	prefix string
	cap    int64
}

func NewHistoryRepository(client *redis.Client, maxPerRoom int) ports.HistoryRepository {
	if maxPerRoom <= 0 {
		maxPerRoom = 200
	}
	return &HistoryRepository{
		client: client,
		prefix: "huddle:history:",
		cap:    int64(maxPerRoom),
	}
}

func (r *HistoryRepository) key(roomID domain.RoomID) string {
	return r.prefix + string(roomID)
}

func (r *HistoryRepository) Append(ctx context.Context, msg *domain.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	key := r.key(msg.RoomID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -r.cap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

func (r *HistoryRepository) Recent(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.ChatMessage, error) {
	if limit <= 0 || int64(limit) > r.cap {
		limit = int(r.cap)
	}

	raw, err := r.client.LRange(ctx, r.key(roomID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read chat history: %w", err)
	}

	msgs := make([]*domain.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		msgs = append(msgs, &msg)
	}
	return msgs, nil
}
