package repositories

import (
	"context"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/cache"
)

const roomListKey = "rooms:list"

// CachedRoomRepository is a read-through cache over a RoomRepository. Room
// records are immutable after creation, so a short TTL only bounds how long
// a deleted room lingers in list results on another node.
type CachedRoomRepository struct {
	inner ports.RoomRepository
	cache *cache.Cache
}

func NewCachedRoomRepository(inner ports.RoomRepository, ttl time.Duration) *CachedRoomRepository {
	return &CachedRoomRepository{
		inner: inner,
		cache: cache.New(ttl),
	}
}

func (r *CachedRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	if err := r.inner.Create(ctx, room); err != nil {
		return err
	}
	r.cache.Set(roomKey(room.ID), room)
	r.cache.Delete(roomListKey)
	return nil
}

func (r *CachedRoomRepository) GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	if v, ok := r.cache.Get(roomKey(id)); ok {
		return v.(*domain.Room), nil
	}

	room, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(roomKey(id), room)
	return room, nil
}

func (r *CachedRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	if v, ok := r.cache.Get(roomListKey); ok {
		return v.([]*domain.Room), nil
	}

	rooms, err := r.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	r.cache.Set(roomListKey, rooms)
	return rooms, nil
}

func (r *CachedRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	if err := r.inner.Delete(ctx, id); err != nil {
		return err
	}
	r.cache.Delete(roomKey(id))
	r.cache.Delete(roomListKey)
	return nil
}

func roomKey(id domain.RoomID) string {
	return "room:" + string(id)
}

var _ ports.RoomRepository = (*CachedRoomRepository)(nil)
