package media

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/utils"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// TransportConfig carries the ICE setup shared by every peer connection.
type TransportConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Transport implements ports.MediaTransport on pion/webrtc, negotiating over
// per-participant pub/sub inboxes. One Transport serves the whole process;
// each OpenSession gets its own inbox subscription and call table.
type Transport struct {
	cfg    TransportConfig
	pubsub ports.PubSub
	logger *zap.SugaredLogger
}

func NewTransport(cfg TransportConfig, pubsub ports.PubSub, logger *zap.SugaredLogger) *Transport {
	return &Transport{cfg: cfg, pubsub: pubsub, logger: logger}
}

// OpenSession subscribes the local negotiation inbox and reports ready once
// the subscription is live. A lost signaling transport surfaces as
// OnDisconnected; established peer connections keep flowing on their own
// ICE paths.
func (t *Transport) OpenSession(ctx context.Context, self domain.ParticipantID, ev ports.SessionEvents) (ports.MediaSession, error) {
	api, err := t.newAPI()
	if err != nil {
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	inbox, cancelSub, err := t.pubsub.Subscribe(sessionCtx, MediaTopic(self))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe media inbox: %w", err)
	}

	s := &session{
		transport: t,
		self:      self,
		events:    ev,
		api:       api,
		ctx:       sessionCtx,
		cancel:    cancel,
		cancelSub: cancelSub,
		logger:    t.logger.With("participant", self),
		calls:     make(map[string]*peerCall),
	}

	s.unsubStatus = t.pubsub.OnStatusChange(func(status domain.ConnStatus) {
		if status == domain.ConnDisconnected {
			s.disconnected()
		}
	})

	go s.receiveLoop(inbox)
	go s.ready()
	return s, nil
}

func (t *Transport) newAPI() (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if t.cfg.PortRange.Min > 0 && t.cfg.PortRange.Max > 0 {
		if err := se.SetEphemeralUDPPortRange(t.cfg.PortRange.Min, t.cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("set port range: %w", err)
		}
	}
	// Generous ICE timeouts so a short NAT or relay hiccup does not kill
	// the call.
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

func (t *Transport) rtcConfig() webrtc.Configuration {
	servers := t.cfg.ICEServers
	if len(servers) == 0 {
		servers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	return webrtc.Configuration{ICEServers: servers}
}

// session is one live registration of the local identity.
type session struct {
	transport   *Transport
	self        domain.ParticipantID
	events      ports.SessionEvents
	api         *webrtc.API
	ctx         context.Context
	cancel      context.CancelFunc
	cancelSub   func()
	unsubStatus func()
	logger      *zap.SugaredLogger

	mu       sync.Mutex
	calls    map[string]*peerCall
	closed   bool
	lostLink bool
}

func (s *session) ready() {
	if s.events.OnReady != nil {
		s.events.OnReady()
	}
}

func (s *session) disconnected() {
	s.mu.Lock()
	if s.closed || s.lostLink {
		s.mu.Unlock()
		return
	}
	s.lostLink = true
	s.mu.Unlock()

	if s.events.OnDisconnected != nil {
		s.events.OnDisconnected()
	}
}

func (s *session) receiveLoop(inbox <-chan []byte) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case payload, ok := <-inbox:
			if !ok {
				s.disconnected()
				return
			}
			s.handleEnvelope(payload)
		}
	}
}

func (s *session) handleEnvelope(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.logger.Warnw("dropping malformed media envelope", "error", err)
		return
	}
	if env.From == s.self {
		return
	}

	switch env.Type {
	case envOffer:
		s.handleOffer(env)
	case envAnswer:
		s.withCall(env.CallID, func(call *peerCall) { call.handleAnswer(env) })
	case envCandidate:
		s.withCall(env.CallID, func(call *peerCall) { call.handleCandidate(env) })
	case envReject, envHangup:
		s.withCall(env.CallID, func(call *peerCall) { call.remoteClosed(env.Type) })
	default:
		s.logger.Debugw("ignoring media envelope", "type", env.Type)
	}
}

func (s *session) handleOffer(env envelope) {
	if env.SDP == nil || env.CallID == "" {
		s.logger.Warnw("dropping offer without sdp or call id", "from", env.From)
		return
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		_ = s.send(envelope{Type: envReject, CallID: env.CallID, From: s.self, To: env.From})
		return
	}

	if s.events.OnInboundCall == nil {
		return
	}
	s.events.OnInboundCall(&incomingCall{session: s, env: env})
}

func (s *session) withCall(callID string, fn func(*peerCall)) {
	s.mu.Lock()
	call, ok := s.calls[callID]
	s.mu.Unlock()
	if ok {
		fn(call)
	}
}

// Call dials target with the local stream.
func (s *session) Call(ctx context.Context, target domain.ParticipantID, local domain.LocalStream, ev ports.CallEvents) (ports.CallHandle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrPeerSessionClosed
	}
	s.mu.Unlock()

	call, err := newPeerCall(s, utils.GenerateID("call"), target, domain.DirectionOutbound, local, ev)
	if err != nil {
		return nil, err
	}

	s.register(call)
	if err := call.sendOffer(ctx); err != nil {
		call.teardown(false)
		s.unregister(call.id)
		return nil, err
	}
	return call, nil
}

func (s *session) register(call *peerCall) {
	s.mu.Lock()
	s.calls[call.id] = call
	s.mu.Unlock()
}

func (s *session) unregister(callID string) {
	s.mu.Lock()
	delete(s.calls, callID)
	s.mu.Unlock()
}

func (s *session) send(env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode media envelope: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.transport.pubsub.Publish(ctx, MediaTopic(env.To), payload)
}

// Close hangs up every call and drops the inbox subscription. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	calls := make([]*peerCall, 0, len(s.calls))
	for _, call := range s.calls {
		calls = append(calls, call)
	}
	s.calls = make(map[string]*peerCall)
	s.mu.Unlock()

	for _, call := range calls {
		call.teardown(true)
	}
	s.unsubStatus()
	s.cancelSub()
	s.cancel()
	s.logger.Infow("media session closed", "calls", len(calls))
	return nil
}

// incomingCall defers peer-connection construction until the owner decides.
type incomingCall struct {
	session *session
	env     envelope

	mu      sync.Mutex
	settled bool
}

func (c *incomingCall) From() domain.ParticipantID { return c.env.From }

func (c *incomingCall) Answer(local domain.LocalStream, ev ports.CallEvents) (ports.CallHandle, error) {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		return nil, domain.ErrPeerSessionClosed
	}
	c.settled = true
	c.mu.Unlock()

	call, err := newPeerCall(c.session, c.env.CallID, c.env.From, domain.DirectionInbound, local, ev)
	if err != nil {
		return nil, err
	}

	c.session.register(call)
	if err := call.sendAnswer(c.env); err != nil {
		call.teardown(false)
		c.session.unregister(call.id)
		return nil, err
	}
	return call, nil
}

func (c *incomingCall) Reject() error {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		return nil
	}
	c.settled = true
	c.mu.Unlock()

	return c.session.send(envelope{
		Type:   envReject,
		CallID: c.env.CallID,
		From:   c.session.self,
		To:     c.env.From,
	})
}

var (
	_ ports.MediaTransport = (*Transport)(nil)
	_ ports.MediaSession   = (*session)(nil)
	_ ports.IncomingCall   = (*incomingCall)(nil)
)
