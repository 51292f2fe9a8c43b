package domain

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventNewMessage         EventType = "message"
	EventTyping             EventType = "typing"
	EventMessageStatus      EventType = "message_status"
	EventUserStatus         EventType = "user_status"
	EventParticipantAdded   EventType = "participant_added"
	EventParticipantRemoved EventType = "participant_removed"
	EventParticipantLeft    EventType = "participant_left"
	EventIncomingCall       EventType = "call_offer"
	EventCallRinging        EventType = "call_ringing"
	EventCallAnswer         EventType = "call_answer"
	EventCallConnected      EventType = "call_connected"
	EventCallRejected       EventType = "call_rejected"
	EventCallEnded          EventType = "call_ended"
	EventCallFailed         EventType = "call_failed"
	EventIceCandidate       EventType = "candidate"
)

// Event is the envelope relayed to live sessions. Seq is a per-source
// monotonic counter stamped by the dispatcher; clients use it for
// duplicate suppression, the relay itself never deduplicates.
type Event struct {
	Type           EventType       `json:"type"`
	Seq            uint64          `json:"seq,omitempty"`
	SenderID       UserID          `json:"sender_id,omitempty"`
	ConversationID ConversationID  `json:"conversation_id,omitempty"`
	CallID         CallID          `json:"call_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	SentAt         time.Time       `json:"sent_at,omitzero"`
}

// Typed payloads for the events the relay itself constructs. Chat payloads
// pass through opaque.

type UserStatusPayload struct {
	UserID      UserID    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen"`
}

type ParticipantPayload struct {
	UserID UserID `json:"user_id"`
}

type IncomingCallPayload struct {
	CallerID UserID             `json:"caller_id"`
	Media    MediaKind          `json:"media"`
	Offer    SessionDescription `json:"offer"`
}

type CallAnswerPayload struct {
	Answer SessionDescription `json:"answer"`
}

type CallRejectedPayload struct {
	UserID UserID `json:"user_id"`
	Reason string `json:"reason"`
}

type CallEndedPayload struct {
	EndedBy UserID `json:"ended_by"`
}

type CallFailedPayload struct {
	Reason EndReason `json:"reason"`
}

type CandidatePayload struct {
	Candidate Candidate `json:"candidate"`
}
