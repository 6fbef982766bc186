package media

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPubSub struct {
	mu        sync.Mutex
	status    domain.ConnStatus
	subs      map[string]chan []byte
	sent      map[string][][]byte
	listeners []func(domain.ConnStatus)
}

func newStubPubSub() *stubPubSub {
	return &stubPubSub{
		status: domain.ConnConnected,
		subs:   make(map[string]chan []byte),
		sent:   make(map[string][][]byte),
	}
}

func (s *stubPubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	s.mu.Lock()
	s.sent[topic] = append(s.sent[topic], payload)
	sub := s.subs[topic]
	s.mu.Unlock()
	if sub != nil {
		sub <- payload
	}
	return nil
}

func (s *stubPubSub) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 16)
	s.mu.Lock()
	s.subs[topic] = ch
	s.mu.Unlock()
	return ch, func() {}, nil
}

func (s *stubPubSub) Status() domain.ConnStatus { return s.status }

func (s *stubPubSub) OnStatusChange(fn func(domain.ConnStatus)) func() {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
	return func() {}
}

func (s *stubPubSub) fireStatus(status domain.ConnStatus) {
	s.mu.Lock()
	listeners := append([]func(domain.ConnStatus){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(status)
	}
}

func (s *stubPubSub) sentTo(topic string) []envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []envelope
	for _, payload := range s.sent[topic] {
		var env envelope
		if err := json.Unmarshal(payload, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func openTestSession(t *testing.T, pubsub *stubPubSub, self domain.ParticipantID, ev ports.SessionEvents) ports.MediaSession {
	t.Helper()
	transport := NewTransport(TransportConfig{}, pubsub, zap.NewNop().Sugar())
	session, err := transport.OpenSession(context.Background(), self, ev)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestOpenSessionFiresReady(t *testing.T) {
	pubsub := newStubPubSub()
	ready := make(chan struct{})

	openTestSession(t, pubsub, "alice", ports.SessionEvents{
		OnReady: func() { close(ready) },
	})

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("session never reported ready")
	}
}

func TestInboundOfferReachesOwner(t *testing.T) {
	pubsub := newStubPubSub()
	incoming := make(chan ports.IncomingCall, 1)

	openTestSession(t, pubsub, "alice", ports.SessionEvents{
		OnInboundCall: func(call ports.IncomingCall) { incoming <- call },
	})

	sdp := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	payload, err := json.Marshal(envelope{
		Type: envOffer, CallID: "c1", From: "bob", To: "alice", SDP: sdp,
	})
	require.NoError(t, err)
	require.NoError(t, pubsub.Publish(context.Background(), MediaTopic("alice"), payload))

	select {
	case call := <-incoming:
		assert.Equal(t, domain.ParticipantID("bob"), call.From())

		// Rejecting is a reject envelope to the caller's inbox.
		require.NoError(t, call.Reject())
		rejects := pubsub.sentTo(MediaTopic("bob"))
		require.Len(t, rejects, 1)
		assert.Equal(t, envReject, rejects[0].Type)
		assert.Equal(t, "c1", rejects[0].CallID)

		// A second settle attempt is a no-op.
		require.NoError(t, call.Reject())
		assert.Len(t, pubsub.sentTo(MediaTopic("bob")), 1)
	case <-time.After(time.Second):
		t.Fatal("offer never delivered")
	}
}

func TestMalformedEnvelopesAreDropped(t *testing.T) {
	pubsub := newStubPubSub()
	incoming := make(chan ports.IncomingCall, 1)

	openTestSession(t, pubsub, "alice", ports.SessionEvents{
		OnInboundCall: func(call ports.IncomingCall) { incoming <- call },
	})

	ctx := context.Background()
	require.NoError(t, pubsub.Publish(ctx, MediaTopic("alice"), []byte("{oops")))
	// Offer without SDP is also dropped.
	broken, _ := json.Marshal(envelope{Type: envOffer, CallID: "c1", From: "bob", To: "alice"})
	require.NoError(t, pubsub.Publish(ctx, MediaTopic("alice"), broken))

	good := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	payload, _ := json.Marshal(envelope{Type: envOffer, CallID: "c2", From: "bob", To: "alice", SDP: good})
	require.NoError(t, pubsub.Publish(ctx, MediaTopic("alice"), payload))

	select {
	case call := <-incoming:
		assert.Equal(t, domain.ParticipantID("bob"), call.From())
	case <-time.After(time.Second):
		t.Fatal("survivor offer never delivered")
	}
	assert.Empty(t, incoming)
}

func TestOfferAfterCloseIsRejected(t *testing.T) {
	pubsub := newStubPubSub()
	s := openTestSession(t, pubsub, "alice", ports.SessionEvents{
		OnInboundCall: func(ports.IncomingCall) { t.Error("closed session must not surface calls") },
	})
	require.NoError(t, s.Close())

	// Deliver directly; the subscription is torn down but the session must
	// still answer a straggler with a reject.
	sdp := &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	payload, _ := json.Marshal(envelope{Type: envOffer, CallID: "c1", From: "bob", To: "alice", SDP: sdp})
	s.(*session).handleEnvelope(payload)

	rejects := pubsub.sentTo(MediaTopic("bob"))
	require.Len(t, rejects, 1)
	assert.Equal(t, envReject, rejects[0].Type)
}

func TestStatusLossFiresDisconnected(t *testing.T) {
	pubsub := newStubPubSub()
	disconnected := make(chan struct{})

	openTestSession(t, pubsub, "alice", ports.SessionEvents{
		OnDisconnected: func() { close(disconnected) },
	})

	pubsub.fireStatus(domain.ConnDisconnected)
	// Repeated loss must not close the channel twice.
	pubsub.fireStatus(domain.ConnDisconnected)

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect never surfaced")
	}
}
