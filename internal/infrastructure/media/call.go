package media

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/infrastructure/capture"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const (
	rtpMTU            = 1200
	keyframeInterval  = 3 * time.Second
	rtcpReadBufferLen = 1500
)

// rtpSourcer is what a local stream must provide to be sent over a peer
// connection. The capture package's Stream satisfies it; test doubles that
// don't are carried as receive-only calls.
type rtpSourcer interface {
	Sources() []capture.Source
}

// peerCall is one WebRTC peer connection with a single remote participant.
type peerCall struct {
	id        string
	session   *session
	peer      domain.ParticipantID
	direction domain.CallDirection
	events    ports.CallEvents
	pc        *webrtc.PeerConnection
	logger    *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	remoteReady bool
	pending     []webrtc.ICECandidateInit
	closed      bool
	remote      *remoteStream
}

func newPeerCall(
	s *session,
	id string,
	peer domain.ParticipantID,
	direction domain.CallDirection,
	local domain.LocalStream,
	ev ports.CallEvents,
) (*peerCall, error) {
	pc, err := s.api.NewPeerConnection(s.transport.rtcConfig())
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	call := &peerCall{
		id:        id,
		session:   s,
		peer:      peer,
		direction: direction,
		events:    ev,
		pc:        pc,
		logger:    s.logger.With("peer", peer, "call_id", id),
		ctx:       ctx,
		cancel:    cancel,
	}

	if err := call.attachLocal(local); err != nil {
		cancel()
		_ = pc.Close()
		return nil, err
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		if err := s.send(envelope{
			Type:      envCandidate,
			CallID:    id,
			From:      s.self,
			To:        peer,
			Candidate: &init,
		}); err != nil {
			call.logger.Debugw("candidate send failed", "error", err)
		}
	})

	pc.OnTrack(call.onTrack)

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		call.logger.Debugw("connection state changed", "state", state)
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			call.remoteClosed(state.String())
		}
	})

	return call, nil
}

// attachLocal wires the local sources as outbound tracks. A local stream
// that exposes no packetized sources still negotiates receive-only media so
// the SDP carries valid m-lines.
func (c *peerCall) attachLocal(local domain.LocalStream) error {
	sourcer, ok := local.(rtpSourcer)
	if !ok || local == nil {
		return c.addRecvOnlyTransceivers()
	}
	sources := sourcer.Sources()
	if len(sources) == 0 {
		return c.addRecvOnlyTransceivers()
	}

	for _, src := range sources {
		track, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{
				MimeType:  src.MimeType,
				ClockRate: src.ClockRate,
				Channels:  src.Channels,
			},
			src.Kind,
			"huddle-"+string(c.session.self),
		)
		if err != nil {
			return fmt.Errorf("create %s track: %w", src.Kind, err)
		}

		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", src.Kind, err)
		}

		go drainRTCP(c.ctx, sender)
		go c.pump(src, track)
	}
	return nil
}

func (c *peerCall) addRecvOnlyTransceivers() error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add recvonly transceiver: %w", err)
		}
	}
	return nil
}

// pump moves encoded packets from a capture source onto the outbound track.
// While the source is muted, packets are read and dropped so the encoder
// keeps draining but nothing reaches the wire.
func (c *peerCall) pump(src capture.Source, track *webrtc.TrackLocalStaticRTP) {
	reader, err := src.NewReader(rand.Uint32(), rtpMTU)
	if err != nil {
		c.logger.Warnw("packetized reader failed", "kind", src.Kind, "error", err)
		return
	}
	defer func() { _ = reader.Close() }()

	for c.ctx.Err() == nil {
		pkts, release, err := reader.Read()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debugw("source read ended", "kind", src.Kind, "error", err)
			}
			return
		}
		if src.Enabled == nil || src.Enabled() {
			for _, pkt := range pkts {
				if err := track.WriteRTP(pkt); err != nil {
					release()
					return
				}
			}
		}
		release()
	}
}

func (c *peerCall) onTrack(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	kind := tr.Kind().String()
	c.logger.Infow("remote track received", "kind", kind, "codec", tr.Codec().MimeType)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	first := c.remote == nil
	if first {
		c.remote = newRemoteStream(c.ctx, c.peer)
	}
	remote := c.remote
	c.mu.Unlock()

	remote.addKind(kind)

	go remote.drain(tr)
	if tr.Kind() == webrtc.RTPCodecTypeVideo {
		go remote.requestKeyframes(c.pc, uint32(tr.SSRC()), keyframeInterval)
	}

	if first && c.events.OnStream != nil {
		c.events.OnStream(remote)
	}
}

func (c *peerCall) sendOffer(ctx context.Context) error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return c.session.send(envelope{
		Type:   envOffer,
		CallID: c.id,
		From:   c.session.self,
		To:     c.peer,
		SDP:    c.pc.LocalDescription(),
	})
}

func (c *peerCall) sendAnswer(offer envelope) error {
	if err := c.pc.SetRemoteDescription(*offer.SDP); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	c.flushPending()

	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return c.session.send(envelope{
		Type:   envAnswer,
		CallID: c.id,
		From:   c.session.self,
		To:     c.peer,
		SDP:    c.pc.LocalDescription(),
	})
}

func (c *peerCall) handleAnswer(env envelope) {
	if env.SDP == nil {
		c.logger.Warnw("dropping answer without sdp")
		return
	}
	if err := c.pc.SetRemoteDescription(*env.SDP); err != nil {
		c.fail(fmt.Errorf("apply answer: %w", err))
		return
	}
	c.flushPending()
}

// handleCandidate applies a trickled ICE candidate, buffering it when it
// outruns the remote description.
func (c *peerCall) handleCandidate(env envelope) {
	if env.Candidate == nil {
		return
	}

	c.mu.Lock()
	if !c.remoteReady && c.pc.RemoteDescription() == nil {
		c.pending = append(c.pending, *env.Candidate)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.pc.AddICECandidate(*env.Candidate); err != nil {
		c.logger.Debugw("add candidate failed", "error", err)
	}
}

func (c *peerCall) flushPending() {
	c.mu.Lock()
	c.remoteReady = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, candidate := range pending {
		if err := c.pc.AddICECandidate(candidate); err != nil {
			c.logger.Debugw("add buffered candidate failed", "error", err)
		}
	}
}

func (c *peerCall) fail(err error) {
	c.logger.Warnw("call failed", "error", err)
	if c.events.OnError != nil {
		c.events.OnError(err)
	}
	c.remoteClosed("failure")
}

// remoteClosed tears down after the other side hung up, rejected, or the
// connection died. Fires OnClose exactly once.
func (c *peerCall) remoteClosed(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.logger.Infow("call ended by remote", "reason", reason)
	c.cancel()
	_ = c.pc.Close()
	c.session.unregister(c.id)
	if c.events.OnClose != nil {
		c.events.OnClose()
	}
}

// teardown is the local-initiated close; it never fires OnClose because the
// owner already forgot this call.
func (c *peerCall) teardown(sendHangup bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if sendHangup {
		if err := c.session.send(envelope{
			Type:   envHangup,
			CallID: c.id,
			From:   c.session.self,
			To:     c.peer,
		}); err != nil {
			c.logger.Debugw("hangup send failed", "error", err)
		}
	}
	c.cancel()
	_ = c.pc.Close()
}

func (c *peerCall) Peer() domain.ParticipantID      { return c.peer }
func (c *peerCall) Direction() domain.CallDirection { return c.direction }

func (c *peerCall) Close() error {
	c.teardown(true)
	c.session.unregister(c.id)
	return nil
}

func drainRTCP(ctx context.Context, sender *webrtc.RTPSender) {
	buf := make([]byte, rtcpReadBufferLen)
	for ctx.Err() == nil {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

var _ ports.CallHandle = (*peerCall)(nil)
