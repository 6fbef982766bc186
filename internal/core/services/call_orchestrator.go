package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	apperrors "huddle/pkg/errors"

	"go.uber.org/zap"
)

// OrchestratorConfig is the call policy for one room session.
type OrchestratorConfig struct {
	Constraints ports.CaptureConstraints

	// ReconnectDelay and ReconnectMaxAttempts bound the automatic
	// peer-session recovery after a disconnect. Attempts reset once a
	// session reaches ready again.
	ReconnectDelay       time.Duration
	ReconnectMaxAttempts int

	PublishTimeout time.Duration
}

// connectionEntry is one outbound-or-inbound media negotiation with a single
// remote participant. At most one entry per participant exists at any time.
type connectionEntry struct {
	peer      domain.ParticipantID
	direction domain.CallDirection
	handle    ports.CallHandle // nil while the dial is in flight
}

// CallOrchestrator owns the Room Session: the local capture handle, the peer
// session, the connection-entry map and the registry of rendered remote
// streams. All state is mutated under one mutex; transport callbacks carry a
// session generation and discard themselves when it is stale, so teardown
// mid-flight is always safe.
type CallOrchestrator struct {
	cfg       OrchestratorConfig
	self      domain.ParticipantID
	roomID    domain.RoomID
	signaling ports.SignalingChannel
	transport ports.MediaTransport
	capture   ports.CaptureDevice
	tracker   *MembershipTracker
	registry  *StreamRegistry
	metrics   ports.MetricsRecorder
	notifier  ports.Notifier
	logger    *zap.SugaredLogger

	mu            sync.Mutex
	state         domain.CallState
	gen           uint64
	local         domain.LocalStream
	session       ports.MediaSession
	entries       map[domain.ParticipantID]*connectionEntry
	peerStatus    domain.PeerSessionStatus
	micEnabled    bool
	cameraEnabled bool
	lastError     string
	startedAt     time.Time

	reconnectTimer    *time.Timer
	reconnectAttempts int
}

// CallSnapshot is the reactive state exposed to the Call UI Controller.
type CallSnapshot struct {
	State         domain.CallState         `json:"state"`
	ConnStatus    domain.ConnStatus        `json:"conn_status"`
	PeerStatus    domain.PeerSessionStatus `json:"peer_status"`
	Active        bool                     `json:"active"`
	MicEnabled    bool                     `json:"mic_enabled"`
	CameraEnabled bool                     `json:"camera_enabled"`
	Participants  []domain.ParticipantID   `json:"participants"`
	Streams       []domain.ParticipantID   `json:"streams"`
	LastError     string                   `json:"last_error,omitempty"`
}

func NewCallOrchestrator(
	cfg OrchestratorConfig,
	self domain.ParticipantID,
	roomID domain.RoomID,
	signaling ports.SignalingChannel,
	transport ports.MediaTransport,
	capture ports.CaptureDevice,
	tracker *MembershipTracker,
	registry *StreamRegistry,
	metrics ports.MetricsRecorder,
	notifier ports.Notifier,
	logger *zap.SugaredLogger,
) *CallOrchestrator {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	o := &CallOrchestrator{
		cfg:        cfg,
		self:       self,
		roomID:     roomID,
		signaling:  signaling,
		transport:  transport,
		capture:    capture,
		tracker:    tracker,
		registry:   registry,
		metrics:    metrics,
		notifier:   notifier,
		logger:     logger,
		state:      domain.CallIdle,
		entries:    make(map[domain.ParticipantID]*connectionEntry),
		peerStatus: domain.PeerDisconnected,
	}
	tracker.SetListener(o)
	return o
}

// Run consumes the room's signaling subscriptions until ctx ends. It
// requests the current roster once the subscriptions are live, and again on
// every reconnect of the signaling channel.
func (o *CallOrchestrator) Run(ctx context.Context) error {
	roomCh, cancelRoom, err := o.signaling.SubscribeRoom(ctx, o.roomID)
	if err != nil {
		return fmt.Errorf("subscribe room broadcast: %w", err)
	}
	defer cancelRoom()

	inboxCh, cancelInbox, err := o.signaling.SubscribeInbox(ctx, o.self)
	if err != nil {
		return fmt.Errorf("subscribe inbox: %w", err)
	}
	defer cancelInbox()

	unsub := o.signaling.OnStatusChange(func(status domain.ConnStatus) {
		if status == domain.ConnConnected {
			o.tracker.RequestRoster(ctx)
		}
		o.notifyState()
	})
	defer unsub()

	o.tracker.RequestRoster(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-roomCh:
			if !ok {
				return nil
			}
			o.dispatch(ev)
		case ev, ok := <-inboxCh:
			if !ok {
				return nil
			}
			o.dispatch(ev)
		}
	}
}

func (o *CallOrchestrator) dispatch(ev ports.SignalingEvent) {
	if o.metrics != nil {
		o.metrics.SignalingMessage(ev.Type)
	}
	o.tracker.HandleEvent(ev)
}

// StartCall acquires local media, opens the peer session and announces the
// join. Idempotent: invoking it while already starting or active is a no-op.
func (o *CallOrchestrator) StartCall(ctx context.Context) error {
	o.mu.Lock()
	if o.state != domain.CallIdle {
		o.logger.Debugw("start ignored, call already in progress", "state", o.state)
		o.mu.Unlock()
		return nil
	}
	if o.signaling.Status() != domain.ConnConnected {
		o.mu.Unlock()
		return apperrors.NewSignalingUnavailableError()
	}
	o.state = domain.CallStarting
	o.lastError = ""
	gen := o.gen
	o.mu.Unlock()
	o.notifyState()

	// Device acquisition happens only here, never eagerly.
	stream, err := o.capture.Acquire(ctx, o.cfg.Constraints)

	o.mu.Lock()
	if o.gen != gen || o.state != domain.CallStarting {
		// Torn down while the acquisition was in flight.
		o.mu.Unlock()
		if err == nil {
			_ = stream.Close()
		}
		return nil
	}
	if err != nil {
		o.state = domain.CallIdle
		o.lastError = "camera/microphone access denied"
		o.mu.Unlock()
		o.notifyState()
		o.logger.Warnw("media acquisition failed", "error", err)
		return apperrors.WrapError(err, apperrors.ErrCodePermissionDenied, "cannot start call without camera and microphone", 403)
	}

	o.local = stream
	o.micEnabled = true
	o.cameraEnabled = true
	o.startedAt = time.Now()

	if err := o.initSessionLocked(ctx, gen); err != nil {
		o.local = nil
		o.state = domain.CallIdle
		o.lastError = "peer session failed to start"
		o.mu.Unlock()
		_ = stream.Close()
		o.notifyState()
		return apperrors.NewPeerSessionError(err)
	}
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.CallStarted()
	}
	o.notifyState()
	return nil
}

// initSessionLocked tears down any prior peer-session handle and opens a new
// one whose event handlers are bound to gen. Caller holds o.mu.
func (o *CallOrchestrator) initSessionLocked(ctx context.Context, gen uint64) error {
	if o.session != nil {
		if err := o.session.Close(); err != nil {
			o.logger.Warnw("closing stale peer session", "error", err)
		}
		o.session = nil
	}
	// Closing the old session tears down its calls without firing their
	// close handlers, so the entries and rendered streams are dropped here.
	// The replacement session's ready handler then redials everyone, and an
	// inbound re-offer finds no stale entry blocking it.
	for p, entry := range o.entries {
		o.registry.Remove(p)
		if entry.handle != nil && o.metrics != nil {
			o.metrics.PeerConnectionClosed()
		}
	}
	o.entries = make(map[domain.ParticipantID]*connectionEntry)
	o.peerStatus = domain.PeerConnecting

	session, err := o.transport.OpenSession(ctx, o.self, ports.SessionEvents{
		OnReady:        func() { o.onSessionReady(gen) },
		OnInboundCall:  func(call ports.IncomingCall) { o.onInboundCall(gen, call) },
		OnError:        func(err error) { o.onSessionError(gen, err) },
		OnDisconnected: func() { o.onSessionDisconnected(gen) },
	})
	if err != nil {
		o.peerStatus = domain.PeerDisconnected
		return err
	}
	o.session = session
	return nil
}

// onSessionReady transitions to Active, announces the join and dials every
// known participant that has no connection entry yet.
func (o *CallOrchestrator) onSessionReady(gen uint64) {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.peerStatus = domain.PeerConnected
	o.reconnectAttempts = 0
	announced := o.state == domain.CallStarting
	if announced {
		o.state = domain.CallActive
	}
	o.mu.Unlock()

	if announced {
		o.publish(ports.SignalingEvent{Type: ports.SignalJoin, From: o.self})
	}
	o.notifyState()

	for _, p := range o.tracker.Participants() {
		o.callPeer(p)
	}
}

// callPeer opens an outbound media call toward p. Idempotent: an existing
// entry for p short-circuits, which is what collapses duplicate attempts
// from racing trigger sites (join handler, roster reconciliation, ready
// handler) into a single negotiation.
func (o *CallOrchestrator) callPeer(p domain.ParticipantID) {
	o.mu.Lock()
	if o.state != domain.CallActive || o.session == nil || o.peerStatus != domain.PeerConnected {
		o.mu.Unlock()
		return
	}
	if _, exists := o.entries[p]; exists {
		o.mu.Unlock()
		return
	}
	// Reserve the entry before dialing so a concurrent second attempt is a
	// no-op regardless of interleaving.
	o.entries[p] = &connectionEntry{peer: p, direction: domain.DirectionOutbound}
	session, local, gen := o.session, o.local, o.gen
	o.mu.Unlock()

	o.logger.Infow("calling peer", "room_id", o.roomID, "peer", p)

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PublishTimeout)
	handle, err := session.Call(ctx, p, local, o.callEvents(p, gen))
	cancel()

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		if err == nil {
			_ = handle.Close()
		}
		return
	}
	if err != nil {
		delete(o.entries, p)
		o.mu.Unlock()
		o.logger.Warnw("outbound call failed", "peer", p, "error", err)
		return
	}
	entry, ok := o.entries[p]
	if !ok || entry.direction != domain.DirectionOutbound || entry.handle != nil {
		// The peer left, or the dial lost a simultaneous-call race and the
		// entry was replaced by an answered inbound call.
		o.mu.Unlock()
		_ = handle.Close()
		return
	}
	entry.handle = handle
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.PeerConnectionOpened()
	}
	o.notifyState()
}

// onInboundCall answers an offered call with the local stream. An inbound
// offer that races our own outbound dial to the same peer is resolved by
// identity order: the smaller identity keeps its outbound call, the larger
// one abandons it and answers.
func (o *CallOrchestrator) onInboundCall(gen uint64, call ports.IncomingCall) {
	from := call.From()

	o.mu.Lock()
	if o.gen != gen || (o.state != domain.CallActive && o.state != domain.CallStarting) {
		o.mu.Unlock()
		_ = call.Reject()
		return
	}
	if o.local == nil {
		// Active without local media is a state inconsistency, not a
		// silently ignorable event.
		o.lastError = "inbound call arrived without local media"
		o.mu.Unlock()
		o.logger.Errorw("cannot answer call, no local stream", "peer", from)
		_ = call.Reject()
		o.notifyState()
		return
	}
	if existing, exists := o.entries[from]; exists {
		if existing.handle != nil || o.self < from {
			// Established call wins; for an unresolved race the smaller
			// identity keeps dialing.
			o.mu.Unlock()
			_ = call.Reject()
			return
		}
		delete(o.entries, from)
	}

	o.tracker.NoteParticipant(from)
	o.entries[from] = &connectionEntry{peer: from, direction: domain.DirectionInbound}
	local := o.local
	o.mu.Unlock()

	o.logger.Infow("answering inbound call", "room_id", o.roomID, "peer", from)

	handle, err := call.Answer(local, o.callEvents(from, gen))

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		if err == nil {
			_ = handle.Close()
		}
		return
	}
	if err != nil {
		delete(o.entries, from)
		o.lastError = "failed to answer call from " + string(from)
		o.mu.Unlock()
		o.logger.Warnw("answer failed", "peer", from, "error", err)
		o.notifyState()
		return
	}
	if entry, ok := o.entries[from]; ok {
		entry.handle = handle
	} else {
		o.mu.Unlock()
		_ = handle.Close()
		return
	}
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.PeerConnectionOpened()
	}
	o.notifyState()
}

// callEvents builds the stream/close/error handlers shared by outbound and
// answered calls, bound to the session generation at registration time.
func (o *CallOrchestrator) callEvents(p domain.ParticipantID, gen uint64) ports.CallEvents {
	return ports.CallEvents{
		OnStream: func(stream domain.RemoteStream) {
			o.mu.Lock()
			_, exists := o.entries[p]
			stale := o.gen != gen || !exists
			o.mu.Unlock()
			if stale {
				_ = stream.Close()
				return
			}
			o.registry.Add(p, stream)
			o.notifyState()
		},
		OnClose: func() {
			o.mu.Lock()
			if o.gen != gen {
				o.mu.Unlock()
				return
			}
			_, exists := o.entries[p]
			delete(o.entries, p)
			o.mu.Unlock()
			if !exists {
				return
			}
			o.registry.Remove(p)
			if o.metrics != nil {
				o.metrics.PeerConnectionClosed()
			}
			o.logger.Infow("call closed", "peer", p)
			o.notifyState()
		},
		OnError: func(err error) {
			o.logger.Warnw("call error", "peer", p, "error", err)
		},
	}
}

// ParticipantJoined implements MembershipListener.
func (o *CallOrchestrator) ParticipantJoined(p domain.ParticipantID) {
	o.callPeer(p)
	o.notifyState()
}

// MembershipReplaced implements MembershipListener: a reconciliation pass
// that dials every rostered participant without an entry and tears down
// entries whose participant vanished from the roster.
func (o *CallOrchestrator) MembershipReplaced(roster []domain.ParticipantID) {
	current := make(map[domain.ParticipantID]struct{}, len(roster))
	for _, p := range roster {
		current[p] = struct{}{}
	}

	o.mu.Lock()
	var gone []domain.ParticipantID
	for p := range o.entries {
		if _, ok := current[p]; !ok {
			gone = append(gone, p)
		}
	}
	o.mu.Unlock()

	for _, p := range gone {
		o.teardownEntry(p)
	}
	for _, p := range roster {
		o.callPeer(p)
	}
	o.notifyState()
}

// ParticipantLeft implements MembershipListener.
func (o *CallOrchestrator) ParticipantLeft(p domain.ParticipantID) {
	o.teardownEntry(p)
	o.notifyState()
}

// teardownEntry closes and forgets the connection for p, through the same
// path as a remote-initiated close.
func (o *CallOrchestrator) teardownEntry(p domain.ParticipantID) {
	o.mu.Lock()
	entry, exists := o.entries[p]
	delete(o.entries, p)
	o.mu.Unlock()

	if !exists {
		return
	}
	if entry.handle != nil {
		if err := entry.handle.Close(); err != nil {
			o.logger.Warnw("closing connection", "peer", p, "error", err)
		}
	}
	o.registry.Remove(p)
	if o.metrics != nil {
		o.metrics.PeerConnectionClosed()
	}
}

func (o *CallOrchestrator) onSessionError(gen uint64, err error) {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.peerStatus = domain.PeerDisconnected
	o.lastError = "peer session error: " + err.Error()
	o.mu.Unlock()

	o.logger.Errorw("peer session error", "error", err)
	o.notifyState()
}

// onSessionDisconnected schedules exactly one reconnect attempt after the
// configured delay, up to the configured bound.
func (o *CallOrchestrator) onSessionDisconnected(gen uint64) {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.peerStatus = domain.PeerDisconnected
	if o.reconnectTimer != nil {
		o.reconnectTimer.Stop()
		o.reconnectTimer = nil
	}
	if o.reconnectAttempts >= o.cfg.ReconnectMaxAttempts {
		o.lastError = "peer session lost; reconnect attempts exhausted"
		o.mu.Unlock()
		o.logger.Errorw("peer session reconnect exhausted", "attempts", o.reconnectAttempts)
		o.notifyState()
		return
	}
	o.reconnectAttempts++
	attempt := o.reconnectAttempts
	o.reconnectTimer = time.AfterFunc(o.cfg.ReconnectDelay, func() { o.reconnectSession(gen) })
	o.mu.Unlock()

	o.logger.Warnw("peer session disconnected, reconnect scheduled",
		"attempt", attempt,
		"delay", o.cfg.ReconnectDelay,
	)
	o.notifyState()
}

func (o *CallOrchestrator) reconnectSession(gen uint64) {
	o.mu.Lock()
	if o.gen != gen || o.state != domain.CallActive || o.local == nil {
		o.mu.Unlock()
		return
	}
	o.reconnectTimer = nil
	err := o.initSessionLocked(context.Background(), gen)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.PeerSessionReconnect()
	}
	if err != nil {
		o.logger.Errorw("peer session reconnect failed", "error", err)
		// Feed back through the disconnect path so the attempt bound holds.
		o.onSessionDisconnected(gen)
		return
	}
	o.notifyState()
}

// ReconnectPeerSession is the manual recovery action. With local media
// present it reinitializes the session; from Idle it is equivalent to
// StartCall.
func (o *CallOrchestrator) ReconnectPeerSession(ctx context.Context) error {
	o.mu.Lock()
	if o.state == domain.CallActive && o.local != nil {
		o.reconnectAttempts = 0
		gen := o.gen
		err := o.initSessionLocked(ctx, gen)
		o.mu.Unlock()
		if err != nil {
			return apperrors.NewPeerSessionError(err)
		}
		o.notifyState()
		return nil
	}
	o.mu.Unlock()
	return o.StartCall(ctx)
}

// EndCall tears the Room Session down to Idle. Safe to call repeatedly and
// safe to call mid-start: in-flight completions observe the bumped
// generation and discard themselves. Teardown always runs to completion;
// individual release failures are logged, never re-thrown.
func (o *CallOrchestrator) EndCall(ctx context.Context) {
	o.mu.Lock()
	if o.state == domain.CallIdle {
		o.mu.Unlock()
		return
	}
	o.state = domain.CallEnding
	o.gen++
	if o.reconnectTimer != nil {
		o.reconnectTimer.Stop()
		o.reconnectTimer = nil
	}
	o.reconnectAttempts = 0
	session := o.session
	o.session = nil
	local := o.local
	o.local = nil
	entries := o.entries
	o.entries = make(map[domain.ParticipantID]*connectionEntry)
	o.peerStatus = domain.PeerDisconnected
	startedAt := o.startedAt
	o.mu.Unlock()
	o.notifyState()

	if session != nil {
		if err := session.Close(); err != nil {
			o.logger.Warnw("peer session close failed", "error", err)
		}
	}
	for p, entry := range entries {
		if entry.handle != nil {
			if err := entry.handle.Close(); err != nil {
				o.logger.Warnw("connection close failed", "peer", p, "error", err)
			}
		}
	}
	o.registry.Clear()
	if local != nil {
		if err := local.Close(); err != nil {
			o.logger.Warnw("releasing local media failed", "error", err)
		}
	}

	o.publish(ports.SignalingEvent{Type: ports.SignalLeave, From: o.self})

	o.mu.Lock()
	o.state = domain.CallIdle
	o.mu.Unlock()

	if o.metrics != nil && !startedAt.IsZero() {
		o.metrics.CallEnded(time.Since(startedAt))
	}
	o.logger.Infow("call ended", "room_id", o.roomID)
	o.notifyState()
}

// ToggleMic flips the audio track. Valid only while Active.
func (o *CallOrchestrator) ToggleMic() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != domain.CallActive || o.local == nil {
		return o.micEnabled
	}
	o.micEnabled = !o.micEnabled
	o.local.SetAudioEnabled(o.micEnabled)
	go o.notifyState()
	return o.micEnabled
}

// ToggleCamera flips the video track. Valid only while Active.
func (o *CallOrchestrator) ToggleCamera() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != domain.CallActive || o.local == nil {
		return o.cameraEnabled
	}
	o.cameraEnabled = !o.cameraEnabled
	o.local.SetVideoEnabled(o.cameraEnabled)
	go o.notifyState()
	return o.cameraEnabled
}

// Snapshot returns the current reactive state for the UI.
func (o *CallOrchestrator) Snapshot() CallSnapshot {
	o.mu.Lock()
	snap := CallSnapshot{
		State:         o.state,
		PeerStatus:    o.peerStatus,
		Active:        o.state == domain.CallActive || o.state == domain.CallStarting,
		MicEnabled:    o.micEnabled,
		CameraEnabled: o.cameraEnabled,
		LastError:     o.lastError,
	}
	o.mu.Unlock()

	snap.ConnStatus = o.signaling.Status()
	snap.Participants = o.tracker.Participants()
	snap.Streams = o.registry.Participants()
	return snap
}

// ClearError dismisses the current user-visible error message.
func (o *CallOrchestrator) ClearError() {
	o.mu.Lock()
	o.lastError = ""
	o.mu.Unlock()
	o.notifyState()
}

// publish sends a room broadcast best-effort; failure is logged, not
// propagated.
func (o *CallOrchestrator) publish(ev ports.SignalingEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.PublishTimeout)
	defer cancel()
	if err := o.signaling.PublishRoom(ctx, o.roomID, ev); err != nil {
		o.logger.Warnw("signaling publish failed", "type", ev.Type, "error", err)
	}
}

func (o *CallOrchestrator) notifyState() {
	if o.notifier == nil {
		return
	}
	o.notifier.Publish(ports.UIEvent{
		Type:    ports.UICallState,
		RoomID:  o.roomID,
		Payload: o.Snapshot(),
	})
}
