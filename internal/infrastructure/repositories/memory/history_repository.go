package memory

import (
	"context"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

// HistoryRepository keeps capped per-room chat history in process memory.
type HistoryRepository struct {
	mu   sync.RWMutex
	msgs map[domain.RoomID][]*domain.ChatMessage
	cap  int
}

func NewHistoryRepository(maxPerRoom int) ports.HistoryRepository {
	if maxPerRoom <= 0 {
		maxPerRoom = 200
	}
	return &HistoryRepository{
		msgs: make(map[domain.RoomID][]*domain.ChatMessage),
		cap:  maxPerRoom,
	}
}

func (r *HistoryRepository) Append(ctx context.Context, msg *domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *msg
	history := append(r.msgs[msg.RoomID], &copied)
	if len(history) > r.cap {
		history = history[len(history)-r.cap:]
	}
	r.msgs[msg.RoomID] = history
	return nil
}

func (r *HistoryRepository) Recent(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.msgs[roomID]
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return append([]*domain.ChatMessage{}, history...), nil
}
