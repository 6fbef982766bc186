package media

import (
	"context"
	"sync"
	"time"

	"huddle/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
)

// remoteStream is the inbound media of one peer. Its reader goroutines live
// on a sub-context of the call so closing the stream stops consumption
// without touching the peer connection itself.
type remoteStream struct {
	peer   domain.ParticipantID
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	kinds []string
}

func newRemoteStream(parent context.Context, peer domain.ParticipantID) *remoteStream {
	ctx, cancel := context.WithCancel(parent)
	return &remoteStream{peer: peer, ctx: ctx, cancel: cancel}
}

func (r *remoteStream) Peer() domain.ParticipantID { return r.peer }

func (r *remoteStream) Kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.kinds...)
}

func (r *remoteStream) addKind(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.kinds {
		if k == kind {
			return
		}
	}
	r.kinds = append(r.kinds, kind)
}

func (r *remoteStream) Close() error {
	r.cancel()
	return nil
}

// drain consumes inbound packets so the receiver's jitter buffer and RTCP
// reports keep moving. Rendering is the presentation layer's concern.
func (r *remoteStream) drain(tr *webrtc.TrackRemote) {
	for r.ctx.Err() == nil {
		if _, _, err := tr.ReadRTP(); err != nil {
			return
		}
	}
}

// requestKeyframes asks the sender for a fresh keyframe periodically, so a
// late joiner or a lossy link recovers a decodable picture.
func (r *remoteStream) requestKeyframes(pc *webrtc.PeerConnection, ssrc uint32, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			err := pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: ssrc},
			})
			if err != nil {
				return
			}
		}
	}
}
