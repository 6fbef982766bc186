package domain

// CallState is the per-room call lifecycle state.
type CallState string

const (
	CallIdle     CallState = "idle"
	CallStarting CallState = "starting"
	CallActive   CallState = "active"
	CallEnding   CallState = "ending"
)

// ConnStatus is the state of the signaling channel. It gates whether
// call-control actions are permitted.
type ConnStatus string

const (
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
	ConnDisconnected ConnStatus = "disconnected"
)

// PeerSessionStatus is the state of the local media-transport handle.
// Independent of ConnStatus: a call can be active locally while the peer
// session is mid-reconnect.
type PeerSessionStatus string

const (
	PeerDisconnected PeerSessionStatus = "disconnected"
	PeerConnecting   PeerSessionStatus = "connecting"
	PeerConnected    PeerSessionStatus = "connected"
)

type CallDirection string

const (
	DirectionOutbound CallDirection = "outbound"
	DirectionInbound  CallDirection = "inbound"
)
