package services

import (
	"context"
	"sort"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"go.uber.org/zap"
)

// MembershipListener receives membership transitions. Callbacks fire
// synchronously from the goroutine that delivered the signaling event.
type MembershipListener interface {
	ParticipantJoined(p domain.ParticipantID)
	MembershipReplaced(roster []domain.ParticipantID)
	ParticipantLeft(p domain.ParticipantID)
}

// MembershipTracker maintains the set of remote participants known to be in
// the call for one room. The local identity is excluded by construction.
type MembershipTracker struct {
	self      domain.ParticipantID
	roomID    domain.RoomID
	signaling ports.SignalingChannel
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	members  map[domain.ParticipantID]struct{}
	listener MembershipListener
}

func NewMembershipTracker(
	self domain.ParticipantID,
	roomID domain.RoomID,
	signaling ports.SignalingChannel,
	logger *zap.SugaredLogger,
) *MembershipTracker {
	return &MembershipTracker{
		self:      self,
		roomID:    roomID,
		signaling: signaling,
		logger:    logger,
		members:   make(map[domain.ParticipantID]struct{}),
	}
}

// SetListener wires the orchestrator. Must be called before events flow.
func (t *MembershipTracker) SetListener(l MembershipListener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

// RequestRoster publishes GET_USERS for the room. Best-effort: no response
// means an empty roster until the next JOIN is observed.
func (t *MembershipTracker) RequestRoster(ctx context.Context) {
	ev := ports.SignalingEvent{Type: ports.SignalGetUsers, From: t.self}
	if err := t.signaling.PublishControl(ctx, t.roomID, ev); err != nil {
		t.logger.Warnw("roster request failed", "room_id", t.roomID, "error", err)
	}
}

// HandleEvent applies one signaling event to the participant set.
func (t *MembershipTracker) HandleEvent(ev ports.SignalingEvent) {
	switch ev.Type {
	case ports.SignalJoin:
		t.handleJoin(ev.From)
	case ports.SignalLeave:
		t.handleLeave(ev.From)
	case ports.SignalUserList:
		t.handleUserList(ev.Data)
	case ports.SignalGetUsers:
		// Answered by the roster responder, not by clients.
	default:
		t.logger.Debugw("ignoring signaling event", "type", ev.Type)
	}
}

// NoteParticipant registers a participant learned out-of-band (an inbound
// call whose JOIN was not observed). No joined event is emitted; the caller
// is already acting on the participant.
func (t *MembershipTracker) NoteParticipant(p domain.ParticipantID) {
	if p == t.self || p == "" {
		return
	}
	t.mu.Lock()
	t.members[p] = struct{}{}
	t.mu.Unlock()
}

// Participants returns the current remote participant set, sorted.
func (t *MembershipTracker) Participants() []domain.ParticipantID {
	t.mu.Lock()
	out := make([]domain.ParticipantID, 0, len(t.members))
	for p := range t.members {
		out = append(out, p)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *MembershipTracker) Contains(p domain.ParticipantID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.members[p]
	return ok
}

func (t *MembershipTracker) handleJoin(from domain.ParticipantID) {
	if from == t.self || from == "" {
		return
	}

	t.mu.Lock()
	_, known := t.members[from]
	t.members[from] = struct{}{}
	listener := t.listener
	t.mu.Unlock()

	if known {
		return
	}
	t.logger.Infow("participant joined", "room_id", t.roomID, "participant", from)
	if listener != nil {
		listener.ParticipantJoined(from)
	}
}

func (t *MembershipTracker) handleLeave(from domain.ParticipantID) {
	t.mu.Lock()
	_, known := t.members[from]
	delete(t.members, from)
	listener := t.listener
	t.mu.Unlock()

	if !known {
		return
	}
	t.logger.Infow("participant left", "room_id", t.roomID, "participant", from)
	if listener != nil {
		listener.ParticipantLeft(from)
	}
}

// handleUserList replaces the whole set: full reconciliation, not
// incremental.
func (t *MembershipTracker) handleUserList(roster []domain.ParticipantID) {
	filtered := make([]domain.ParticipantID, 0, len(roster))
	next := make(map[domain.ParticipantID]struct{}, len(roster))
	for _, p := range roster {
		if p == t.self || p == "" {
			continue
		}
		if _, dup := next[p]; dup {
			continue
		}
		next[p] = struct{}{}
		filtered = append(filtered, p)
	}

	t.mu.Lock()
	t.members = next
	listener := t.listener
	t.mu.Unlock()

	t.logger.Infow("membership replaced", "room_id", t.roomID, "count", len(filtered))
	if listener != nil {
		listener.MembershipReplaced(filtered)
	}
}
