package media

import (
	"huddle/internal/core/domain"

	"github.com/pion/webrtc/v4"
)

// MediaTopic is the per-participant inbox for call negotiation traffic.
func MediaTopic(p domain.ParticipantID) string {
	return "media:user:" + string(p)
}

// Envelope message types.
const (
	envOffer     = "offer"
	envAnswer    = "answer"
	envCandidate = "candidate"
	envReject    = "reject"
	envHangup    = "hangup"
)

// envelope is one negotiation message between two participants. CallID pins
// the message to a single negotiation so a stale hangup cannot kill a
// successor call between the same pair.
type envelope struct {
	Type      string                     `json:"type"`
	CallID    string                     `json:"call_id"`
	From      domain.ParticipantID       `json:"from"`
	To        domain.ParticipantID       `json:"to"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}
