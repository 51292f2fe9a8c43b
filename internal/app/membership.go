package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chatrelay/internal/core"
	"chatrelay/internal/domain"

	"github.com/rs/zerolog/log"
)

// Membership caches conversation member sets for fast fanout. Entries are
// read-mostly; the conversation-management collaborator calls Invalidate
// on add/remove/leave. A cache miss reloads synchronously from the store
// without holding the cache lock across the I/O.
type Membership struct {
	store core.ConversationStore

	mu    sync.RWMutex
	cache map[domain.ConversationID]*domain.Conversation
}

func NewMembership(store core.ConversationStore) *Membership {
	return &Membership{
		store: store,
		cache: make(map[domain.ConversationID]*domain.Conversation),
	}
}

// Resolve returns the conversation's membership, loading it on a miss.
// A failed reload surfaces as unknown-conversation so the caller drops
// the event instead of partially delivering.
func (m *Membership) Resolve(ctx context.Context, cid domain.ConversationID) (*domain.Conversation, error) {
	m.mu.RLock()
	conv, ok := m.cache[cid]
	m.mu.RUnlock()
	if ok {
		return conv, nil
	}

	conv, err := m.store.GetConversation(ctx, cid)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.membership").Str("conversation", string(cid)).Msg("membership reload failed")
		if errors.Is(err, domain.ErrUnknownConversation) {
			return nil, fmt.Errorf("membership reload: %w", domain.ErrUnknownConversation)
		}
		return nil, fmt.Errorf("membership reload: %w", domain.ErrCollaboratorUnavailable)
	}

	m.mu.Lock()
	// A concurrent reload may have raced us; last write wins, both are
	// fresh reads of the same store.
	m.cache[cid] = conv
	m.mu.Unlock()
	return conv, nil
}

// IsMember authorizes event relay: never fan out to a non-member, even if
// mistakenly requested.
func (m *Membership) IsMember(ctx context.Context, cid domain.ConversationID, uid domain.UserID) (bool, error) {
	conv, err := m.Resolve(ctx, cid)
	if err != nil {
		return false, err
	}
	return conv.HasMember(uid), nil
}

// Invalidate drops the cached entry; the next fanout reloads it.
func (m *Membership) Invalidate(cid domain.ConversationID) {
	m.mu.Lock()
	delete(m.cache, cid)
	m.mu.Unlock()
	log.Info().Str("module", "app.membership").Str("conversation", string(cid)).Msg("membership invalidated")
}
