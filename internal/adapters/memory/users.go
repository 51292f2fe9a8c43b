package memory

import (
	"context"
	"fmt"
	"sync"

	"chatrelay/internal/domain"
)

// UserDirectory keeps user profiles keyed by id.
type UserDirectory struct {
	mu    sync.RWMutex
	users map[domain.UserID]*domain.User
}

func NewUserDirectory() *UserDirectory {
	return &UserDirectory{users: make(map[domain.UserID]*domain.User)}
}

func (d *UserDirectory) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrUnknownUser)
	}
	out := *u
	return &out, nil
}

func (d *UserDirectory) Create(displayName string) (*domain.User, error) {
	u, err := domain.NewUser(displayName)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
	out := *u
	return &out, nil
}

func (d *UserDirectory) Rename(id domain.UserID, displayName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, domain.ErrUnknownUser)
	}
	return u.SetDisplayName(displayName)
}
