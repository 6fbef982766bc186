package services

import (
	"context"
	"errors"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

// fakeSignaling records publishes and lets tests drive status transitions.
type fakeSignaling struct {
	mu        sync.Mutex
	status    domain.ConnStatus
	room      []ports.SignalingEvent
	control   []ports.SignalingEvent
	user      map[domain.ParticipantID][]ports.SignalingEvent
	listeners []func(domain.ConnStatus)
	roomCh    chan ports.SignalingEvent
	inboxCh   chan ports.SignalingEvent
}

func newFakeSignaling() *fakeSignaling {
	return &fakeSignaling{
		status:  domain.ConnConnected,
		user:    make(map[domain.ParticipantID][]ports.SignalingEvent),
		roomCh:  make(chan ports.SignalingEvent, 16),
		inboxCh: make(chan ports.SignalingEvent, 16),
	}
}

func (f *fakeSignaling) Status() domain.ConnStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeSignaling) setStatus(s domain.ConnStatus) {
	f.mu.Lock()
	f.status = s
	listeners := append([]func(domain.ConnStatus){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}

func (f *fakeSignaling) OnStatusChange(fn func(domain.ConnStatus)) func() {
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
	return func() {}
}

func (f *fakeSignaling) SubscribeRoom(ctx context.Context, roomID domain.RoomID) (<-chan ports.SignalingEvent, func(), error) {
	return f.roomCh, func() {}, nil
}

func (f *fakeSignaling) SubscribeInbox(ctx context.Context, self domain.ParticipantID) (<-chan ports.SignalingEvent, func(), error) {
	return f.inboxCh, func() {}, nil
}

func (f *fakeSignaling) PublishRoom(ctx context.Context, roomID domain.RoomID, ev ports.SignalingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.room = append(f.room, ev)
	return nil
}

func (f *fakeSignaling) PublishControl(ctx context.Context, roomID domain.RoomID, ev ports.SignalingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.control = append(f.control, ev)
	return nil
}

func (f *fakeSignaling) PublishUser(ctx context.Context, to domain.ParticipantID, ev ports.SignalingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user[to] = append(f.user[to], ev)
	return nil
}

func (f *fakeSignaling) roomEvents(eventType string) []ports.SignalingEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ports.SignalingEvent
	for _, ev := range f.room {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// fakeLocalStream tracks track toggles and release.
type fakeLocalStream struct {
	mu     sync.Mutex
	audio  bool
	video  bool
	closed bool
}

func newFakeLocalStream() *fakeLocalStream {
	return &fakeLocalStream{audio: true, video: true}
}

func (s *fakeLocalStream) SetAudioEnabled(v bool) { s.mu.Lock(); s.audio = v; s.mu.Unlock() }
func (s *fakeLocalStream) SetVideoEnabled(v bool) { s.mu.Lock(); s.video = v; s.mu.Unlock() }
func (s *fakeLocalStream) AudioEnabled() bool     { s.mu.Lock(); defer s.mu.Unlock(); return s.audio }
func (s *fakeLocalStream) VideoEnabled() bool     { s.mu.Lock(); defer s.mu.Unlock(); return s.video }
func (s *fakeLocalStream) Close() error           { s.mu.Lock(); s.closed = true; s.mu.Unlock(); return nil }
func (s *fakeLocalStream) isClosed() bool         { s.mu.Lock(); defer s.mu.Unlock(); return s.closed }

// fakeCapture counts acquisitions and can simulate permission denial.
type fakeCapture struct {
	mu       sync.Mutex
	acquired int
	deny     bool
	streams  []*fakeLocalStream
}

func (c *fakeCapture) Acquire(ctx context.Context, _ ports.CaptureConstraints) (domain.LocalStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquired++
	if c.deny {
		return nil, domain.ErrCaptureDenied
	}
	s := newFakeLocalStream()
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *fakeCapture) acquisitions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquired
}

// fakeRemoteStream is a remote track bundle for registry assertions.
type fakeRemoteStream struct {
	mu     sync.Mutex
	peer   domain.ParticipantID
	closed bool
}

func (s *fakeRemoteStream) Peer() domain.ParticipantID { return s.peer }
func (s *fakeRemoteStream) Kinds() []string            { return []string{"audio", "video"} }
func (s *fakeRemoteStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
func (s *fakeRemoteStream) isClosed() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.closed }

// fakeHandle is one established call.
type fakeHandle struct {
	mu        sync.Mutex
	peer      domain.ParticipantID
	direction domain.CallDirection
	closed    bool
}

func (h *fakeHandle) Peer() domain.ParticipantID      { return h.peer }
func (h *fakeHandle) Direction() domain.CallDirection { return h.direction }
func (h *fakeHandle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}
func (h *fakeHandle) isClosed() bool { h.mu.Lock(); defer h.mu.Unlock(); return h.closed }

// fakeSession records outbound dials and keeps the per-peer call events so
// tests can drive stream arrival and remote hangups.
type fakeSession struct {
	mu      sync.Mutex
	closed  bool
	dials   []domain.ParticipantID
	events  map[domain.ParticipantID]ports.CallEvents
	handles map[domain.ParticipantID]*fakeHandle
	failTo  map[domain.ParticipantID]bool

	// blockDial, when set for a peer, makes Call wait until released.
	blockDial map[domain.ParticipantID]chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		events:    make(map[domain.ParticipantID]ports.CallEvents),
		handles:   make(map[domain.ParticipantID]*fakeHandle),
		failTo:    make(map[domain.ParticipantID]bool),
		blockDial: make(map[domain.ParticipantID]chan struct{}),
	}
}

func (s *fakeSession) Call(ctx context.Context, target domain.ParticipantID, local domain.LocalStream, ev ports.CallEvents) (ports.CallHandle, error) {
	s.mu.Lock()
	s.dials = append(s.dials, target)
	gate := s.blockDial[target]
	fail := s.failTo[target]
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return nil, errors.New("dial failed")
	}

	h := &fakeHandle{peer: target, direction: domain.DirectionOutbound}
	s.mu.Lock()
	s.events[target] = ev
	s.handles[target] = h
	s.mu.Unlock()
	return h, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) dialCount(p domain.ParticipantID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.dials {
		if d == p {
			n++
		}
	}
	return n
}

func (s *fakeSession) eventsFor(p domain.ParticipantID) ports.CallEvents {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[p]
}

func (s *fakeSession) isClosed() bool { s.mu.Lock(); defer s.mu.Unlock(); return s.closed }

// fakeTransport hands out fakeSessions and exposes the registered session
// events so tests can drive ready/disconnect transitions.
type fakeTransport struct {
	mu       sync.Mutex
	opens    int
	failOpen bool
	sessions []*fakeSession
	events   []ports.SessionEvents
}

func (t *fakeTransport) OpenSession(ctx context.Context, self domain.ParticipantID, ev ports.SessionEvents) (ports.MediaSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	if t.failOpen {
		return nil, errors.New("transport unavailable")
	}
	s := newFakeSession()
	t.sessions = append(t.sessions, s)
	t.events = append(t.events, ev)
	return s, nil
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func (t *fakeTransport) lastSession() *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sessions) == 0 {
		return nil
	}
	return t.sessions[len(t.sessions)-1]
}

func (t *fakeTransport) lastEvents() ports.SessionEvents {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events[len(t.events)-1]
}

// fakeIncoming is an inbound offer the test delivers by hand.
type fakeIncoming struct {
	mu       sync.Mutex
	from     domain.ParticipantID
	rejected bool
	answered bool
	handle   *fakeHandle
	events   ports.CallEvents
}

func (c *fakeIncoming) From() domain.ParticipantID { return c.from }

func (c *fakeIncoming) Answer(local domain.LocalStream, ev ports.CallEvents) (ports.CallHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answered = true
	c.events = ev
	c.handle = &fakeHandle{peer: c.from, direction: domain.DirectionInbound}
	return c.handle, nil
}

func (c *fakeIncoming) Reject() error {
	c.mu.Lock()
	c.rejected = true
	c.mu.Unlock()
	return nil
}

func (c *fakeIncoming) wasRejected() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.rejected }
func (c *fakeIncoming) wasAnswered() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.answered }

// fakeNotifier records UI pushes.
type fakeNotifier struct {
	mu     sync.Mutex
	events []ports.UIEvent
}

func (n *fakeNotifier) Publish(ev ports.UIEvent) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *fakeNotifier) byType(eventType string) []ports.UIEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []ports.UIEvent
	for _, ev := range n.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}
