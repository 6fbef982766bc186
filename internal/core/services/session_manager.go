package services

import (
	"context"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"go.uber.org/zap"
)

// RoomSession bundles everything that lives exactly as long as the local
// participant is in a room: the call orchestrator with its tracker and
// registry, and the chat channel.
type RoomSession struct {
	RoomID       domain.RoomID
	Orchestrator *CallOrchestrator
	Chat         *ChatService

	cancel context.CancelFunc
}

// SessionManagerConfig carries the per-room policy handed to each session.
type SessionManagerConfig struct {
	Call OrchestratorConfig
	Chat ChatConfig
}

// SessionManager opens and closes room sessions for the local participant.
// One session per room; opening an already-open room returns the existing
// session.
type SessionManager struct {
	cfg       SessionManagerConfig
	self      domain.ParticipantID
	pubsub    ports.PubSub
	signaling ports.SignalingChannel
	transport ports.MediaTransport
	capture   ports.CaptureDevice
	history   ports.HistoryRepository
	metrics   ports.MetricsRecorder
	notifier  ports.Notifier
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[domain.RoomID]*RoomSession
}

func NewSessionManager(
	cfg SessionManagerConfig,
	self domain.ParticipantID,
	pubsub ports.PubSub,
	signaling ports.SignalingChannel,
	transport ports.MediaTransport,
	capture ports.CaptureDevice,
	history ports.HistoryRepository,
	metrics ports.MetricsRecorder,
	notifier ports.Notifier,
	logger *zap.SugaredLogger,
) *SessionManager {
	return &SessionManager{
		cfg:       cfg,
		self:      self,
		pubsub:    pubsub,
		signaling: signaling,
		transport: transport,
		capture:   capture,
		history:   history,
		metrics:   metrics,
		notifier:  notifier,
		logger:    logger,
		sessions:  make(map[domain.RoomID]*RoomSession),
	}
}

// Open enters a room: subscribes its signaling and chat topics and returns
// the session. Entering does not start a call; that is a separate explicit
// action on the session's orchestrator.
func (m *SessionManager) Open(ctx context.Context, roomID domain.RoomID) (*RoomSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[roomID]; ok {
		return existing, nil
	}

	tracker := NewMembershipTracker(m.self, roomID, m.signaling, m.logger)
	registry := NewStreamRegistry(roomID, m.notifier, m.logger)
	orch := NewCallOrchestrator(
		m.cfg.Call, m.self, roomID,
		m.signaling, m.transport, m.capture,
		tracker, registry, m.metrics, m.notifier, m.logger,
	)
	chat := NewChatService(
		m.cfg.Chat, m.self, roomID,
		m.pubsub, m.history, m.metrics, m.notifier, m.logger,
	)

	sessionCtx, cancel := context.WithCancel(context.Background())
	session := &RoomSession{
		RoomID:       roomID,
		Orchestrator: orch,
		Chat:         chat,
		cancel:       cancel,
	}

	go func() {
		if err := orch.Run(sessionCtx); err != nil && sessionCtx.Err() == nil {
			m.logger.Errorw("signaling loop terminated", "room_id", roomID, "error", err)
		}
	}()
	go func() {
		if err := chat.Run(sessionCtx); err != nil && sessionCtx.Err() == nil {
			m.logger.Errorw("chat loop terminated", "room_id", roomID, "error", err)
		}
	}()

	m.sessions[roomID] = session
	m.logger.Infow("room session opened", "room_id", roomID, "participant", m.self)
	return session, nil
}

// Get returns the open session for a room, if any.
func (m *SessionManager) Get(roomID domain.RoomID) (*RoomSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[roomID]
	return s, ok
}

// Close leaves a room: ends any active call, stops the chat timers and
// cancels the subscription loops. Idempotent.
func (m *SessionManager) Close(ctx context.Context, roomID domain.RoomID) {
	m.mu.Lock()
	session, ok := m.sessions[roomID]
	delete(m.sessions, roomID)
	m.mu.Unlock()

	if !ok {
		return
	}
	session.Orchestrator.EndCall(ctx)
	session.Chat.Close()
	session.cancel()
	m.logger.Infow("room session closed", "room_id", roomID, "participant", m.self)
}

// CloseAll tears down every open session, for shutdown.
func (m *SessionManager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	rooms := make([]domain.RoomID, 0, len(m.sessions))
	for roomID := range m.sessions {
		rooms = append(rooms, roomID)
	}
	m.mu.Unlock()

	for _, roomID := range rooms {
		m.Close(ctx, roomID)
	}
}
