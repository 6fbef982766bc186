package domain

// LocalStream is the acquired camera+microphone capture handle. Owned
// exclusively by one Room Session; mutated only through the orchestrator.
type LocalStream interface {
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	AudioEnabled() bool
	VideoEnabled() bool
	// Close stops every track and releases the device. Idempotent.
	Close() error
}

// RemoteStream is the inbound media of one connected peer.
type RemoteStream interface {
	Peer() ParticipantID
	// Kinds lists the track kinds received so far ("audio", "video").
	Kinds() []string
	Close() error
}
