package domain

// ParticipantID is a display-name identity, unique within a room. It doubles
// as the routing address on the signaling channel and as the peer identity on
// the media transport; there is no separate numeric ID.
type ParticipantID string

type RoomID string

func (p ParticipantID) String() string { return string(p) }

func (r RoomID) String() string { return string(r) }
