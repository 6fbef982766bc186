package services

import (
	"context"
	"fmt"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/utils"
	"huddle/pkg/validation"
)

// RoomService manages the room directory. Rooms are lightweight: joining a
// room only means subscribing its topics, so the service is pure CRUD plus
// roster lookups.
type RoomService interface {
	CreateRoom(ctx context.Context, name string, creator domain.ParticipantID) (*domain.Room, error)
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	ListRooms(ctx context.Context) ([]*domain.Room, error)
	DeleteRoom(ctx context.Context, id domain.RoomID, requester domain.ParticipantID) error
	CallMembers(ctx context.Context, id domain.RoomID) ([]domain.ParticipantID, error)
}

type roomService struct {
	rooms  ports.RoomRepository
	roster ports.RosterRepository
}

func NewRoomService(rooms ports.RoomRepository, roster ports.RosterRepository) RoomService {
	return &roomService{rooms: rooms, roster: roster}
}

func (s *roomService) CreateRoom(ctx context.Context, name string, creator domain.ParticipantID) (*domain.Room, error) {
	if err := validation.ValidateRoomName(name); err != nil {
		return nil, err
	}

	room := &domain.Room{
		ID:        domain.RoomID(utils.GenerateRoomID()),
		Name:      name,
		CreatedBy: creator,
		CreatedAt: time.Now(),
	}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

func (s *roomService) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return s.rooms.GetByID(ctx, id)
}

func (s *roomService) ListRooms(ctx context.Context) ([]*domain.Room, error) {
	return s.rooms.List(ctx)
}

func (s *roomService) DeleteRoom(ctx context.Context, id domain.RoomID, requester domain.ParticipantID) error {
	room, err := s.rooms.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if room.CreatedBy != requester {
		return ErrUnauthorized
	}
	return s.rooms.Delete(ctx, id)
}

// CallMembers reports who is currently in the room's call, from the shared
// roster. Best-effort: an empty roster is normal for a room with no call.
func (s *roomService) CallMembers(ctx context.Context, id domain.RoomID) ([]domain.ParticipantID, error) {
	return s.roster.Members(ctx, id)
}
