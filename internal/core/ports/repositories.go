package ports

import (
	"context"

	"huddle/internal/core/domain"
)

type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	List(ctx context.Context) ([]*domain.Room, error)
	Delete(ctx context.Context, id domain.RoomID) error
}

// HistoryRepository persists room chat history, capped per room.
type HistoryRepository interface {
	Append(ctx context.Context, msg *domain.ChatMessage) error
	Recent(ctx context.Context, roomID domain.RoomID, limit int) ([]*domain.ChatMessage, error)
}

// RosterRepository tracks which participants are in a room's call. Entries
// expire so crashed clients age out without a LEAVE.
type RosterRepository interface {
	Add(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error
	Remove(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error
	Members(ctx context.Context, roomID domain.RoomID) ([]domain.ParticipantID, error)
	// Touch refreshes the expiry of the room roster.
	Touch(ctx context.Context, roomID domain.RoomID) error
}
