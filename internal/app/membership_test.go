package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"chatrelay/internal/domain"
)

// fakeStore is an in-test conversation collaborator with failure control.
type fakeStore struct {
	mu    sync.Mutex
	convs map[domain.ConversationID]*domain.Conversation
	loads int
	down  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{convs: make(map[domain.ConversationID]*domain.Conversation)}
}

func (s *fakeStore) put(conv *domain.Conversation) {
	s.mu.Lock()
	s.convs[conv.ID] = conv
	s.mu.Unlock()
}

func (s *fakeStore) GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	if s.down {
		return nil, errors.New("store unavailable")
	}
	conv, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrUnknownConversation)
	}
	out := &domain.Conversation{ID: conv.ID, Direct: conv.Direct}
	out.Members = append(out.Members, conv.Members...)
	return out, nil
}

func (s *fakeStore) ConversationsOf(ctx context.Context, uid domain.UserID) ([]domain.ConversationID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ConversationID
	for id, conv := range s.convs {
		if conv.HasMember(uid) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fakeStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

func TestResolveCachesUntilInvalidated(t *testing.T) {
	store := newFakeStore()
	store.put(&domain.Conversation{ID: "c1", Members: []domain.UserID{"alice", "bob"}})
	m := NewMembership(store)
	ctx := context.Background()

	if _, err := m.Resolve(ctx, "c1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := m.Resolve(ctx, "c1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := store.loadCount(); got != 1 {
		t.Fatalf("expected a single store load, got %d", got)
	}

	store.put(&domain.Conversation{ID: "c1", Members: []domain.UserID{"alice", "bob", "carol"}})
	m.Invalidate("c1")

	conv, err := m.Resolve(ctx, "c1")
	if err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if len(conv.Members) != 3 {
		t.Fatalf("expected reloaded member set, got %v", conv.Members)
	}
	if got := store.loadCount(); got != 2 {
		t.Fatalf("expected reload after invalidation, got %d loads", got)
	}
}

func TestResolveUnknownConversation(t *testing.T) {
	m := NewMembership(newFakeStore())
	_, err := m.Resolve(context.Background(), "missing")
	if !errors.Is(err, domain.ErrUnknownConversation) {
		t.Fatalf("expected ErrUnknownConversation, got %v", err)
	}
}

func TestResolveStoreDown(t *testing.T) {
	store := newFakeStore()
	store.down = true
	m := NewMembership(store)
	_, err := m.Resolve(context.Background(), "c1")
	if !errors.Is(err, domain.ErrCollaboratorUnavailable) {
		t.Fatalf("expected ErrCollaboratorUnavailable, got %v", err)
	}
}

func TestIsMember(t *testing.T) {
	store := newFakeStore()
	store.put(&domain.Conversation{ID: "c1", Members: []domain.UserID{"alice", "bob"}})
	m := NewMembership(store)
	ctx := context.Background()

	cases := []struct {
		uid  domain.UserID
		want bool
	}{
		{"alice", true},
		{"bob", true},
		{"mallory", false},
	}
	for _, tc := range cases {
		got, err := m.IsMember(ctx, "c1", tc.uid)
		if err != nil {
			t.Fatalf("IsMember(%s): %v", tc.uid, err)
		}
		if got != tc.want {
			t.Errorf("IsMember(%s) = %v, want %v", tc.uid, got, tc.want)
		}
	}
}
