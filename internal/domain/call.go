package domain

import (
	"time"

	"github.com/google/uuid"
)

type CallID string

func NewCallID() CallID {
	return CallID(uuid.NewString())
}

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (m MediaKind) Valid() bool {
	return m == MediaAudio || m == MediaVideo
}

// CallState transitions are monotonic: a state is never re-entered once
// left; a fresh attempt means a fresh CallSession.
type CallState int

const (
	CallIdle CallState = iota
	CallCalling
	CallRinging
	CallConnecting
	CallConnected
	CallEnded
	CallRejected
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallCalling:
		return "calling"
	case CallRinging:
		return "ringing"
	case CallConnecting:
		return "connecting"
	case CallConnected:
		return "connected"
	case CallEnded:
		return "ended"
	case CallRejected:
		return "rejected"
	case CallFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s CallState) Terminal() bool {
	return s == CallEnded || s == CallRejected || s == CallFailed
}

type EndReason string

const (
	EndHangUp           EndReason = "hangup"
	EndRejected         EndReason = "rejected"
	EndNoAnswer         EndReason = "no_answer"
	EndUnreachable      EndReason = "unreachable"
	EndPeerDisconnected EndReason = "peer_disconnected"
)

// SessionDescription is the SDP payload relayed between call peers. The
// relay never inspects the SDP beyond syntactic validation at the edge.
type SessionDescription struct {
	Kind string `json:"kind"` // "offer" or "answer"
	SDP  string `json:"sdp"`
}

// Candidate is an ICE candidate relayed between call peers.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

// CallSession is the authoritative record of one call attempt.
type CallSession struct {
	ID          CallID              `json:"id"`
	CallerID    UserID              `json:"caller_id"`
	CalleeID    UserID              `json:"callee_id"`
	Media       MediaKind           `json:"media"`
	State       CallState           `json:"-"`
	Offer       *SessionDescription `json:"offer,omitempty"`
	Answer      *SessionDescription `json:"answer,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	ConnectedAt time.Time           `json:"connected_at,omitzero"`
	EndedAt     time.Time           `json:"ended_at,omitzero"`
	EndReason   EndReason           `json:"end_reason,omitempty"`
	EndedBy     UserID              `json:"ended_by,omitempty"`
}

func (cs *CallSession) Participant(uid UserID) bool {
	return uid == cs.CallerID || uid == cs.CalleeID
}

// Peer returns the counterpart of uid inside the call.
func (cs *CallSession) Peer(uid UserID) UserID {
	if uid == cs.CallerID {
		return cs.CalleeID
	}
	return cs.CallerID
}
