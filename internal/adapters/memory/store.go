// Package memory holds in-memory stand-ins for the external
// collaborators so the server runs stand-alone. Production deployments
// swap these for adapters onto the real services.
package memory

import (
	"context"
	"fmt"
	"sync"

	"chatrelay/internal/domain"

	"github.com/google/uuid"
)

type ConversationStore struct {
	mu    sync.RWMutex
	convs map[domain.ConversationID]*domain.Conversation
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{convs: make(map[domain.ConversationID]*domain.Conversation)}
}

func (s *ConversationStore) GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrUnknownConversation)
	}
	// Copy out: callers must not share the stored slice.
	out := &domain.Conversation{ID: conv.ID, Direct: conv.Direct}
	out.Members = append(out.Members, conv.Members...)
	return out, nil
}

func (s *ConversationStore) Create(direct bool, members []domain.UserID) *domain.Conversation {
	conv := &domain.Conversation{
		ID:      domain.ConversationID(uuid.NewString()),
		Direct:  direct,
		Members: append([]domain.UserID(nil), members...),
	}
	s.mu.Lock()
	s.convs[conv.ID] = conv
	s.mu.Unlock()
	return conv
}

func (s *ConversationStore) AddMember(id domain.ConversationID, uid domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok || conv.HasMember(uid) {
		return ok
	}
	conv.Members = append(conv.Members, uid)
	return true
}

func (s *ConversationStore) RemoveMember(id domain.ConversationID, uid domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return false
	}
	for i, m := range conv.Members {
		if m == uid {
			conv.Members = append(conv.Members[:i], conv.Members[i+1:]...)
			break
		}
	}
	return true
}

// ConversationsOf lists the conversations a user belongs to; the presence
// fanout uses it to tell contacts about status changes.
func (s *ConversationStore) ConversationsOf(ctx context.Context, uid domain.UserID) ([]domain.ConversationID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ConversationID
	for id, conv := range s.convs {
		if conv.HasMember(uid) {
			out = append(out, id)
		}
	}
	return out, nil
}
