package redis

import (
	"context"
	"fmt"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RosterRepository tracks call membership per room in a Redis set with a
// sliding expiry, so a crashed client's room does not hold stale members
// forever.
type RosterRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRosterRepository(client *redis.Client, ttl time.Duration) ports.RosterRepository {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RosterRepository{client: client, prefix: "huddle:roster:", ttl: ttl}
}

func (r *RosterRepository) key(roomID domain.RoomID) string {
	return r.prefix + string(roomID)
}

func (r *RosterRepository) Add(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error {
	key := r.key(roomID)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, string(p))
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("roster add: %w", err)
	}
	return nil
}

func (r *RosterRepository) Remove(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error {
	if err := r.client.SRem(ctx, r.key(roomID), string(p)).Err(); err != nil {
		return fmt.Errorf("roster remove: %w", err)
	}
	return nil
}

func (r *RosterRepository) Members(ctx context.Context, roomID domain.RoomID) ([]domain.ParticipantID, error) {
	raw, err := r.client.SMembers(ctx, r.key(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("roster members: %w", err)
	}

	members := make([]domain.ParticipantID, 0, len(raw))
	for _, m := range raw {
		members = append(members, domain.ParticipantID(m))
	}
	return members, nil
}

func (r *RosterRepository) Touch(ctx context.Context, roomID domain.RoomID) error {
	return r.client.Expire(ctx, r.key(roomID), r.ttl).Err()
}
