package repository

import (
	"context"
	"sync"

	"github.com/lyb88999/gns/internal/domain"
)

// MemoryTokenRepository keeps API token hashes in memory.
type MemoryTokenRepository struct {
	mu     sync.RWMutex
	byHash map[string]*domain.APIToken
}

func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{byHash: make(map[string]*domain.APIToken)}
}

func (m *MemoryTokenRepository) CreateToken(_ context.Context, t *domain.APIToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byHash[t.Hash]; ok {
		return domain.ErrConflict
	}
	c := *t
	m.byHash[t.Hash] = &c
	return nil
}

func (m *MemoryTokenRepository) LookupToken(_ context.Context, hash string) (*domain.APIToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byHash[hash]
	if !ok {
		return nil, domain.ErrUnauthorized
	}
	c := *t
	return &c, nil
}

func (m *MemoryTokenRepository) RevokeToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.byHash {
		if t.ID == id {
			t.Revoked = true
			return nil
		}
	}
	return domain.ErrUnauthorized
}

var _ TokenRepository = (*MemoryTokenRepository)(nil)
