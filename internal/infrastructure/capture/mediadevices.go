package capture

import (
	"context"
	"fmt"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Source is one encoded local track exposed to the media transport: the
// codec identity plus a factory for packetized readers. Enabled is consulted
// per packet so muting takes effect without renegotiation.
type Source struct {
	Kind      string
	MimeType  string
	ClockRate uint32
	Channels  uint16
	NewReader func(ssrc uint32, mtu int) (mediadevices.RTPReadCloser, error)
	Enabled   func() bool
}

// DeviceConfig bounds the camera request.
type DeviceConfig struct {
	VideoBitrate int
}

// Device acquires the local camera and microphone through pion/mediadevices
// with VP8 and Opus encoders.
type Device struct {
	cfg    DeviceConfig
	logger *zap.SugaredLogger
}

func NewDevice(cfg DeviceConfig, logger *zap.SugaredLogger) *Device {
	if cfg.VideoBitrate <= 0 {
		cfg.VideoBitrate = 1_000_000
	}
	return &Device{cfg: cfg, logger: logger}
}

// Acquire opens camera+microphone within the given constraints. A refused or
// absent device surfaces as domain.ErrCaptureDenied wrapped with the driver
// error; the caller decides whether to tell the user.
func (d *Device) Acquire(ctx context.Context, c ports.CaptureConstraints) (domain.LocalStream, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 encoder: %w", err)
	}
	vpxParams.BitRate = d.cfg.VideoBitrate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}

	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	constraints := mediadevices.MediaStreamConstraints{
		Codec: codecSelector,
		Video: func(mtc *mediadevices.MediaTrackConstraints) {
			// Raw formats only. MJPEG camera nodes can emit malformed frames
			// that poison the VP8 encoder.
			mtc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			if c.Width > 0 {
				mtc.Width = prop.IntRanged{Max: c.Width}
			}
			if c.Height > 0 {
				mtc.Height = prop.IntRanged{Max: c.Height}
			}
		},
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	}

	media, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		d.logger.Warnw("media acquisition failed", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrCaptureDenied, err)
	}

	stream := newStream(media.GetTracks(), d.logger)
	d.logger.Infow("local media acquired",
		"tracks", len(media.GetTracks()),
		"width_max", c.Width,
		"height_max", c.Height,
	)
	return stream, nil
}

// Stream owns the acquired tracks and the mute flags.
type Stream struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	tracks []mediadevices.Track
	audio  bool
	video  bool
	closed bool
}

func newStream(tracks []mediadevices.Track, logger *zap.SugaredLogger) *Stream {
	s := &Stream{logger: logger, tracks: tracks, audio: true, video: true}
	for _, track := range tracks {
		track.OnEnded(func(err error) {
			if err != nil {
				logger.Warnw("local track ended", "error", err)
			}
		})
	}
	return s
}

func (s *Stream) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	s.audio = enabled
	s.mu.Unlock()
}

func (s *Stream) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	s.video = enabled
	s.mu.Unlock()
}

func (s *Stream) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

func (s *Stream) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video
}

// Sources exposes one packetized reader factory per track for the media
// transport. Each call to NewReader spins up an independent encoder fed by
// the same device, so every peer connection gets its own reader.
func (s *Stream) Sources() []Source {
	s.mu.Lock()
	tracks := append([]mediadevices.Track{}, s.tracks...)
	s.mu.Unlock()

	sources := make([]Source, 0, len(tracks))
	for _, track := range tracks {
		track := track
		switch track.Kind() {
		case webrtc.RTPCodecTypeVideo:
			sources = append(sources, Source{
				Kind:      "video",
				MimeType:  webrtc.MimeTypeVP8,
				ClockRate: 90000,
				NewReader: func(ssrc uint32, mtu int) (mediadevices.RTPReadCloser, error) {
					return track.NewRTPReader(webrtc.MimeTypeVP8, ssrc, mtu)
				},
				Enabled: s.VideoEnabled,
			})
		case webrtc.RTPCodecTypeAudio:
			sources = append(sources, Source{
				Kind:      "audio",
				MimeType:  webrtc.MimeTypeOpus,
				ClockRate: 48000,
				Channels:  2,
				NewReader: func(ssrc uint32, mtu int) (mediadevices.RTPReadCloser, error) {
					return track.NewRTPReader(webrtc.MimeTypeOpus, ssrc, mtu)
				},
				Enabled: s.AudioEnabled,
			})
		}
	}
	return sources
}

// Close releases the device. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	tracks := s.tracks
	s.tracks = nil
	s.mu.Unlock()

	for _, track := range tracks {
		if err := track.Close(); err != nil {
			s.logger.Debugw("track close failed", "error", err)
		}
	}
	s.logger.Infow("local media released")
	return nil
}

var (
	_ domain.LocalStream  = (*Stream)(nil)
	_ ports.CaptureDevice = (*Device)(nil)
)
