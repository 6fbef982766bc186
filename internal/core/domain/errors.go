package domain

import "errors"

var (
	ErrRoomNotFound         = errors.New("room not found")
	ErrRoomExists           = errors.New("room already exists")
	ErrCaptureDenied        = errors.New("camera/microphone access denied")
	ErrCaptureUnavailable   = errors.New("no capture device available")
	ErrSignalingUnavailable = errors.New("signaling channel not connected")
	ErrNoLocalStream        = errors.New("no local media stream")
	ErrPeerSessionClosed    = errors.New("peer session closed")
	ErrMalformedPayload     = errors.New("malformed signaling payload")
)
