package memory

import (
	"context"
	"sync"

	"chatrelay/internal/domain"
)

type blockKey struct {
	blocker domain.UserID
	blocked domain.UserID
}

type BlockService struct {
	mu     sync.RWMutex
	blocks map[blockKey]struct{}
}

func NewBlockService() *BlockService {
	return &BlockService{blocks: make(map[blockKey]struct{})}
}

func (b *BlockService) IsBlocked(ctx context.Context, a, bUser domain.UserID) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.blocks[blockKey{blocker: a, blocked: bUser}]
	return ok, nil
}

func (b *BlockService) Block(blocker, blocked domain.UserID) {
	b.mu.Lock()
	b.blocks[blockKey{blocker: blocker, blocked: blocked}] = struct{}{}
	b.mu.Unlock()
}

func (b *BlockService) Unblock(blocker, blocked domain.UserID) {
	b.mu.Lock()
	delete(b.blocks, blockKey{blocker: blocker, blocked: blocked})
	b.mu.Unlock()
}
