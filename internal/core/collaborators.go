package core

import (
	"context"

	"chatrelay/internal/domain"
)

// Ports to the external collaborators the relay consumes. Lookups that
// reach these may block on I/O; callers must not hold core locks across
// them.

// ConversationStore is the conversation-management collaborator.
type ConversationStore interface {
	GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error)
	ConversationsOf(ctx context.Context, uid domain.UserID) ([]domain.ConversationID, error)
}

// BlockService answers whether a has blocked b. The relay queries both
// directions.
type BlockService interface {
	IsBlocked(ctx context.Context, a, b domain.UserID) (bool, error)
}

// PushService is the offline push collaborator. Fire-and-forget: failures
// are logged by the implementation, never retried by the relay.
type PushService interface {
	NotifyOffline(uid domain.UserID, summary string)
}

// UserDirectory resolves user profiles for event decoration. A failed
// lookup degrades the event to id-only; it never blocks a relay.
type UserDirectory interface {
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
}
