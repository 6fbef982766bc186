package services

import (
	"context"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type orchFixture struct {
	sig       *fakeSignaling
	transport *fakeTransport
	capture   *fakeCapture
	tracker   *MembershipTracker
	registry  *StreamRegistry
	notifier  *fakeNotifier
	orch      *CallOrchestrator
}

func newOrchFixture(self domain.ParticipantID) *orchFixture {
	logger := zap.NewNop().Sugar()
	sig := newFakeSignaling()
	transport := &fakeTransport{}
	capture := &fakeCapture{}
	notifier := &fakeNotifier{}
	roomID := domain.RoomID("room-1")
	tracker := NewMembershipTracker(self, roomID, sig, logger)
	registry := NewStreamRegistry(roomID, notifier, logger)

	orch := NewCallOrchestrator(
		OrchestratorConfig{
			Constraints:          ports.CaptureConstraints{Width: 320, Height: 240},
			ReconnectDelay:       5 * time.Millisecond,
			ReconnectMaxAttempts: 2,
		},
		self, roomID, sig, transport, capture, tracker, registry, nil, notifier, logger,
	)
	return &orchFixture{
		sig:       sig,
		transport: transport,
		capture:   capture,
		tracker:   tracker,
		registry:  registry,
		notifier:  notifier,
		orch:      orch,
	}
}

// startActive drives the fixture through StartCall and the session-ready
// callback.
func (f *orchFixture) startActive(t *testing.T) {
	t.Helper()
	require.NoError(t, f.orch.StartCall(context.Background()))
	f.transport.lastEvents().OnReady()
	require.Equal(t, domain.CallActive, f.orch.Snapshot().State)
}

func (f *orchFixture) entryHandle(p domain.ParticipantID) ports.CallHandle {
	f.orch.mu.Lock()
	defer f.orch.mu.Unlock()
	if e, ok := f.orch.entries[p]; ok {
		return e.handle
	}
	return nil
}

func TestStartCallIsIdempotent(t *testing.T) {
	f := newOrchFixture("alice")

	require.NoError(t, f.orch.StartCall(context.Background()))
	require.NoError(t, f.orch.StartCall(context.Background()))

	assert.Equal(t, 1, f.capture.acquisitions())
	assert.Equal(t, 1, f.transport.openCount())

	f.transport.lastEvents().OnReady()
	require.NoError(t, f.orch.StartCall(context.Background()))
	assert.Equal(t, 1, f.capture.acquisitions())
}

func TestStartCallRequiresSignaling(t *testing.T) {
	f := newOrchFixture("alice")
	f.sig.setStatus(domain.ConnDisconnected)

	err := f.orch.StartCall(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, f.capture.acquisitions())
	assert.Equal(t, domain.CallIdle, f.orch.Snapshot().State)
}

func TestStartCallCaptureDenied(t *testing.T) {
	f := newOrchFixture("alice")
	f.capture.deny = true

	err := f.orch.StartCall(context.Background())
	require.Error(t, err)

	snap := f.orch.Snapshot()
	assert.Equal(t, domain.CallIdle, snap.State)
	assert.NotEmpty(t, snap.LastError)
	assert.Empty(t, f.sig.roomEvents(ports.SignalJoin), "no join may be announced without media")
	assert.Equal(t, 0, f.transport.openCount())
}

func TestSessionReadyAnnouncesJoinOnce(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)

	joins := f.sig.roomEvents(ports.SignalJoin)
	require.Len(t, joins, 1)
	assert.Equal(t, domain.ParticipantID("alice"), joins[0].From)
}

func TestJoinEventDialsPeerExactlyOnce(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)
	session := f.transport.lastSession()

	f.tracker.HandleEvent(ports.SignalingEvent{Type: ports.SignalJoin, From: "bob"})
	f.tracker.HandleEvent(ports.SignalingEvent{Type: ports.SignalJoin, From: "bob"})

	assert.Equal(t, 1, session.dialCount("bob"))

	// Stream arrival lands in the registry.
	session.eventsFor("bob").OnStream(&fakeRemoteStream{peer: "bob"})
	assert.Equal(t, []domain.ParticipantID{"bob"}, f.registry.Participants())
}

func TestRosterReplacementDialsAndPrunes(t *testing.T) {
	f := newOrchFixture("dave")
	f.startActive(t)
	session := f.transport.lastSession()

	f.tracker.HandleEvent(ports.SignalingEvent{
		Type: ports.SignalUserList,
		Data: []domain.ParticipantID{"alice", "bob", "carol"},
	})
	assert.Equal(t, 1, session.dialCount("alice"))
	assert.Equal(t, 1, session.dialCount("bob"))
	assert.Equal(t, 1, session.dialCount("carol"))

	bobStream := &fakeRemoteStream{peer: "bob"}
	session.eventsFor("bob").OnStream(bobStream)
	bobHandle := f.entryHandle("bob").(*fakeHandle)

	// A fresh roster without bob and carol tears both down and keeps alice.
	f.tracker.HandleEvent(ports.SignalingEvent{
		Type: ports.SignalUserList,
		Data: []domain.ParticipantID{"alice"},
	})

	assert.True(t, bobHandle.isClosed())
	assert.True(t, bobStream.isClosed())
	assert.Empty(t, f.registry.Participants())
	assert.NotNil(t, f.entryHandle("alice"))
	assert.Nil(t, f.entryHandle("bob"))
	assert.Equal(t, 1, session.dialCount("alice"), "surviving peer must not be redialed")
}

func TestLeaveTearsDownConnection(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)
	session := f.transport.lastSession()

	f.tracker.HandleEvent(ports.SignalingEvent{Type: ports.SignalJoin, From: "bob"})
	stream := &fakeRemoteStream{peer: "bob"}
	session.eventsFor("bob").OnStream(stream)
	handle := f.entryHandle("bob").(*fakeHandle)

	f.tracker.HandleEvent(ports.SignalingEvent{Type: ports.SignalLeave, From: "bob"})

	assert.True(t, handle.isClosed())
	assert.True(t, stream.isClosed())
	assert.Empty(t, f.registry.Participants())
	assert.Empty(t, f.tracker.Participants())
	assert.Equal(t, domain.CallActive, f.orch.Snapshot().State, "one peer leaving does not end the call")
}

func TestRemoteCloseAllowsRedial(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)
	session := f.transport.lastSession()

	f.tracker.HandleEvent(ports.SignalingEvent{Type: ports.SignalJoin, From: "bob"})
	session.eventsFor("bob").OnStream(&fakeRemoteStream{peer: "bob"})
	session.eventsFor("bob").OnClose()

	assert.Empty(t, f.registry.Participants())
	assert.Nil(t, f.entryHandle("bob"))

	// bob is still rostered; a fresh roster reconciliation redials.
	f.tracker.HandleEvent(ports.SignalingEvent{
		Type: ports.SignalUserList,
		Data: []domain.ParticipantID{"bob"},
	})
	assert.Equal(t, 2, session.dialCount("bob"))
}

func TestEndCallTeardown(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)
	session := f.transport.lastSession()

	f.tracker.HandleEvent(ports.SignalingEvent{Type: ports.SignalJoin, From: "bob"})
	stream := &fakeRemoteStream{peer: "bob"}
	session.eventsFor("bob").OnStream(stream)
	handle := f.entryHandle("bob").(*fakeHandle)
	local := f.capture.streams[0]

	f.orch.EndCall(context.Background())

	assert.True(t, session.isClosed())
	assert.True(t, handle.isClosed())
	assert.True(t, stream.isClosed())
	assert.True(t, local.isClosed())
	assert.Empty(t, f.registry.Participants())
	assert.Equal(t, domain.CallIdle, f.orch.Snapshot().State)
	assert.Len(t, f.sig.roomEvents(ports.SignalLeave), 1)

	// Repeated end is a no-op with no second leave announcement.
	f.orch.EndCall(context.Background())
	assert.Len(t, f.sig.roomEvents(ports.SignalLeave), 1)
}

func TestEndCallDuringStartDiscardsStaleReady(t *testing.T) {
	f := newOrchFixture("alice")
	require.NoError(t, f.orch.StartCall(context.Background()))
	staleReady := f.transport.lastEvents().OnReady

	f.orch.EndCall(context.Background())
	staleReady()

	snap := f.orch.Snapshot()
	assert.Equal(t, domain.CallIdle, snap.State)
	assert.Empty(t, f.sig.roomEvents(ports.SignalJoin))
}

func TestInboundCallBeforeJoinIsAnswered(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)

	incoming := &fakeIncoming{from: "mallory"}
	f.transport.lastEvents().OnInboundCall(incoming)

	assert.True(t, incoming.wasAnswered())
	assert.True(t, f.tracker.Contains("mallory"), "caller is registered even without an observed join")

	incoming.events.OnStream(&fakeRemoteStream{peer: "mallory"})
	assert.Equal(t, []domain.ParticipantID{"mallory"}, f.registry.Participants())
}

func TestInboundCallAfterEndIsRejected(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)
	staleInbound := f.transport.lastEvents().OnInboundCall

	f.orch.EndCall(context.Background())

	incoming := &fakeIncoming{from: "bob"}
	staleInbound(incoming)
	assert.True(t, incoming.wasRejected())
	assert.False(t, incoming.wasAnswered())
}

func TestSimultaneousCallSmallerIdentityKeepsOutbound(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)
	session := f.transport.lastSession()

	gate := make(chan struct{})
	session.blockDial["bob"] = gate

	done := make(chan struct{})
	go func() {
		f.orch.callPeer("bob")
		close(done)
	}()
	require.Eventually(t, func() bool { return session.dialCount("bob") == 1 },
		time.Second, time.Millisecond)

	// bob's racing offer arrives while our dial is in flight.
	incoming := &fakeIncoming{from: "bob"}
	f.transport.lastEvents().OnInboundCall(incoming)
	assert.True(t, incoming.wasRejected())

	close(gate)
	<-done
	require.NotNil(t, f.entryHandle("bob"))
	assert.Equal(t, domain.DirectionOutbound, f.entryHandle("bob").Direction())
}

func TestSimultaneousCallLargerIdentityAnswers(t *testing.T) {
	f := newOrchFixture("zed")
	f.startActive(t)
	session := f.transport.lastSession()

	gate := make(chan struct{})
	session.blockDial["bob"] = gate

	done := make(chan struct{})
	go func() {
		f.orch.callPeer("bob")
		close(done)
	}()
	require.Eventually(t, func() bool { return session.dialCount("bob") == 1 },
		time.Second, time.Millisecond)

	incoming := &fakeIncoming{from: "bob"}
	f.transport.lastEvents().OnInboundCall(incoming)
	assert.True(t, incoming.wasAnswered())

	close(gate)
	<-done

	// The answered inbound call survives; the late outbound handle is
	// discarded.
	require.NotNil(t, f.entryHandle("bob"))
	assert.Equal(t, domain.DirectionInbound, f.entryHandle("bob").Direction())
	session.mu.Lock()
	lateOutbound := session.handles["bob"]
	session.mu.Unlock()
	assert.True(t, lateOutbound.isClosed())
}

func TestSessionDisconnectReconnectsWithinBound(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)

	f.transport.lastEvents().OnDisconnected()
	require.Eventually(t, func() bool { return f.transport.openCount() == 2 },
		time.Second, time.Millisecond)

	// Recovered session reports ready and the attempt budget resets.
	f.transport.lastEvents().OnReady()
	assert.Equal(t, domain.PeerConnected, f.orch.Snapshot().PeerStatus)

	f.transport.lastEvents().OnDisconnected()
	require.Eventually(t, func() bool { return f.transport.openCount() == 3 },
		time.Second, time.Millisecond)
}

func TestSessionDisconnectGivesUpAfterMaxAttempts(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)

	f.transport.lastEvents().OnDisconnected()
	require.Eventually(t, func() bool { return f.transport.openCount() == 2 },
		time.Second, time.Millisecond)
	f.transport.lastEvents().OnDisconnected()
	require.Eventually(t, func() bool { return f.transport.openCount() == 3 },
		time.Second, time.Millisecond)

	// Budget of 2 is spent; a third disconnect must not reopen.
	f.transport.lastEvents().OnDisconnected()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, f.transport.openCount())
	assert.NotEmpty(t, f.orch.Snapshot().LastError)
}

func TestManualReconnectReplacesSession(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)
	old := f.transport.lastSession()

	require.NoError(t, f.orch.ReconnectPeerSession(context.Background()))
	assert.Equal(t, 2, f.transport.openCount())
	assert.True(t, old.isClosed())
	assert.Equal(t, 1, f.capture.acquisitions(), "local media survives a session reconnect")
}

func TestSessionReplacementRedialsAndDropsStaleStreams(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)
	old := f.transport.lastSession()

	f.tracker.HandleEvent(ports.SignalingEvent{Type: ports.SignalJoin, From: "bob"})
	stream := &fakeRemoteStream{peer: "bob"}
	old.eventsFor("bob").OnStream(stream)

	f.transport.lastEvents().OnDisconnected()
	require.Eventually(t, func() bool { return f.transport.openCount() == 2 },
		time.Second, time.Millisecond)

	// The old session took bob's call down with it without firing a close
	// event, so his stream must not stay rendered.
	assert.True(t, stream.isClosed())
	assert.Empty(t, f.registry.Participants())

	// Ready on the replacement dials bob again from a clean slate.
	replacement := f.transport.lastSession()
	f.transport.lastEvents().OnReady()
	assert.Equal(t, 1, replacement.dialCount("bob"))
	require.NotNil(t, f.entryHandle("bob"))
	assert.Equal(t, domain.DirectionOutbound, f.entryHandle("bob").Direction())
}

func TestSessionReplacementAcceptsPeerReoffer(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)
	old := f.transport.lastSession()

	f.tracker.HandleEvent(ports.SignalingEvent{Type: ports.SignalJoin, From: "bob"})
	old.eventsFor("bob").OnStream(&fakeRemoteStream{peer: "bob"})

	require.NoError(t, f.orch.ReconnectPeerSession(context.Background()))

	// bob recovered first; his re-offer lands before our own redial.
	incoming := &fakeIncoming{from: "bob"}
	f.transport.lastEvents().OnInboundCall(incoming)
	assert.True(t, incoming.wasAnswered())
	assert.False(t, incoming.wasRejected())

	// The ready pass keeps the answered call instead of dialing over it.
	f.transport.lastEvents().OnReady()
	assert.Equal(t, 0, f.transport.lastSession().dialCount("bob"))
	assert.Equal(t, domain.DirectionInbound, f.entryHandle("bob").Direction())
}

func TestManualReconnectFromIdleStartsCall(t *testing.T) {
	f := newOrchFixture("alice")

	require.NoError(t, f.orch.ReconnectPeerSession(context.Background()))
	assert.Equal(t, 1, f.capture.acquisitions())
	assert.Equal(t, domain.CallStarting, f.orch.Snapshot().State)
}

func TestTogglesRequireActiveCall(t *testing.T) {
	f := newOrchFixture("alice")

	assert.False(t, f.orch.ToggleMic())
	assert.False(t, f.orch.ToggleCamera())

	f.startActive(t)
	local := f.capture.streams[0]

	assert.False(t, f.orch.ToggleMic())
	assert.False(t, local.AudioEnabled())
	assert.True(t, f.orch.ToggleMic())
	assert.True(t, local.AudioEnabled())

	assert.False(t, f.orch.ToggleCamera())
	assert.False(t, local.VideoEnabled())
}

func TestSnapshotInvariants(t *testing.T) {
	f := newOrchFixture("alice")
	f.startActive(t)
	session := f.transport.lastSession()

	f.tracker.HandleEvent(ports.SignalingEvent{
		Type: ports.SignalUserList,
		Data: []domain.ParticipantID{"bob", "carol"},
	})
	session.eventsFor("bob").OnStream(&fakeRemoteStream{peer: "bob"})

	snap := f.orch.Snapshot()
	assert.Equal(t, []domain.ParticipantID{"bob", "carol"}, snap.Participants)
	assert.Equal(t, []domain.ParticipantID{"bob"}, snap.Streams)
	assert.True(t, snap.Active)

	// Every rendered stream belongs to a known participant.
	known := make(map[domain.ParticipantID]bool)
	for _, p := range snap.Participants {
		known[p] = true
	}
	for _, p := range snap.Streams {
		assert.True(t, known[p])
	}
}
