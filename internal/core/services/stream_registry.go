package services

import (
	"sort"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"go.uber.org/zap"
)

// StreamRegistry maps connected peers to their live inbound media streams,
// deduplicated by participant identity. Registry keys are always a subset of
// the orchestrator's connection entries; removal is paired with connection
// teardown so no stream outlives its connection.
type StreamRegistry struct {
	roomID   domain.RoomID
	notifier ports.Notifier
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	streams map[domain.ParticipantID]domain.RemoteStream
}

func NewStreamRegistry(roomID domain.RoomID, notifier ports.Notifier, logger *zap.SugaredLogger) *StreamRegistry {
	return &StreamRegistry{
		roomID:   roomID,
		notifier: notifier,
		logger:   logger,
		streams:  make(map[domain.ParticipantID]domain.RemoteStream),
	}
}

// Add records a stream for p. Duplicate stream events for an already-mapped
// participant are a no-op; the first stream wins.
func (r *StreamRegistry) Add(p domain.ParticipantID, stream domain.RemoteStream) bool {
	r.mu.Lock()
	if _, exists := r.streams[p]; exists {
		r.mu.Unlock()
		r.logger.Debugw("duplicate stream ignored", "participant", p)
		return false
	}
	r.streams[p] = stream
	r.mu.Unlock()

	r.logger.Infow("remote stream added", "room_id", r.roomID, "participant", p)
	if r.notifier != nil {
		r.notifier.Publish(ports.UIEvent{
			Type:    ports.UIStreamAdded,
			RoomID:  r.roomID,
			Payload: map[string]interface{}{"participant": p, "kinds": stream.Kinds()},
		})
	}
	return true
}

// Remove drops the mapping for p if present. Idempotent.
func (r *StreamRegistry) Remove(p domain.ParticipantID) bool {
	r.mu.Lock()
	stream, exists := r.streams[p]
	delete(r.streams, p)
	r.mu.Unlock()

	if !exists {
		return false
	}
	if err := stream.Close(); err != nil {
		r.logger.Warnw("stream close failed", "participant", p, "error", err)
	}

	r.logger.Infow("remote stream removed", "room_id", r.roomID, "participant", p)
	if r.notifier != nil {
		r.notifier.Publish(ports.UIEvent{
			Type:    ports.UIStreamRemoved,
			RoomID:  r.roomID,
			Payload: map[string]interface{}{"participant": p},
		})
	}
	return true
}

// Clear removes every mapping; used by call teardown.
func (r *StreamRegistry) Clear() {
	r.mu.Lock()
	participants := make([]domain.ParticipantID, 0, len(r.streams))
	for p := range r.streams {
		participants = append(participants, p)
	}
	r.mu.Unlock()

	for _, p := range participants {
		r.Remove(p)
	}
}

// Participants returns the peers with a rendered stream, sorted.
func (r *StreamRegistry) Participants() []domain.ParticipantID {
	r.mu.Lock()
	out := make([]domain.ParticipantID, 0, len(r.streams))
	for p := range r.streams {
		out = append(out, p)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *StreamRegistry) Get(p domain.ParticipantID) (domain.RemoteStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[p]
	return s, ok
}

func (r *StreamRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}
