package memory

import (
	"context"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

type rosterEntry struct {
	members map[domain.ParticipantID]struct{}
	expires time.Time
}

// RosterRepository is the in-process fallback roster with the same expiry
// semantics as the Redis one.
type RosterRepository struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*rosterEntry
	ttl   time.Duration
}

func NewRosterRepository(ttl time.Duration) ports.RosterRepository {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RosterRepository{
		rooms: make(map[domain.RoomID]*rosterEntry),
		ttl:   ttl,
	}
}

func (r *RosterRepository) entry(roomID domain.RoomID) *rosterEntry {
	e, ok := r.rooms[roomID]
	if !ok || time.Now().After(e.expires) {
		e = &rosterEntry{members: make(map[domain.ParticipantID]struct{})}
		r.rooms[roomID] = e
	}
	return e
}

func (r *RosterRepository) Add(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(roomID)
	e.members[p] = struct{}{}
	e.expires = time.Now().Add(r.ttl)
	return nil
}

func (r *RosterRepository) Remove(ctx context.Context, roomID domain.RoomID, p domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entry(roomID).members, p)
	return nil
}

func (r *RosterRepository) Members(ctx context.Context, roomID domain.RoomID) ([]domain.ParticipantID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(roomID)
	members := make([]domain.ParticipantID, 0, len(e.members))
	for p := range e.members {
		members = append(members, p)
	}
	return members, nil
}

func (r *RosterRepository) Touch(ctx context.Context, roomID domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entry(roomID).expires = time.Now().Add(r.ttl)
	return nil
}
