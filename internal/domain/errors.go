package domain

import "errors"

// Typed results surfaced to callers of the relay core. Adapters map these
// to wire error codes; nothing here ever crosses the transport boundary
// as a raw panic.
var (
	ErrUnauthorized            = errors.New("actor is not a participant")
	ErrBlocked                 = errors.New("blocked")
	ErrBusy                    = errors.New("busy")
	ErrUnreachable             = errors.New("unreachable")
	ErrIllegalTransition       = errors.New("illegal call transition")
	ErrUnknownCall             = errors.New("unknown call")
	ErrUnknownConversation     = errors.New("unknown conversation")
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

// ErrorCode maps a core error to its wire code for adapter replies.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrUnknownCall):
		return "unknown_call"
	case errors.Is(err, ErrUnknownConversation):
		return "unknown_conversation"
	case errors.Is(err, ErrCollaboratorUnavailable):
		return "collaborator_unavailable"
	default:
		return "internal"
	}
}
