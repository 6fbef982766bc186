package ports

import "time"

// MetricsRecorder receives call/signaling counters. Implementations must be
// safe for concurrent use; a nil-safe no-op is acceptable in tests.
type MetricsRecorder interface {
	CallStarted()
	CallEnded(duration time.Duration)
	PeerConnectionOpened()
	PeerConnectionClosed()
	PeerSessionReconnect()
	SignalingMessage(messageType string)
	ChatMessage()
}
