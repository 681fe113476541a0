package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"multisig-console/internal/storage"
)

// PendingTxStore is an in-memory implementation of storage.PendingTxStore.
type PendingTxStore struct {
	mu   sync.RWMutex
	data map[string]*storage.PendingTx // keyed by id
	now  func() time.Time
}

// NewPendingTxStore creates a new in-memory pending payload store.
func NewPendingTxStore() *PendingTxStore {
	return &PendingTxStore{
		data: make(map[string]*storage.PendingTx),
		now:  time.Now,
	}
}

// Compile-time interface check.
var _ storage.PendingTxStore = (*PendingTxStore)(nil)

// Put stores p. Returns ErrDuplicateKey if the id exists.
func (s *PendingTxStore) Put(_ context.Context, p *storage.PendingTx) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}

	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.data[p.ID] = &cp
	return nil
}

// Get returns the payload stored under id.
func (s *PendingTxStore) Get(_ context.Context, id string) (*storage.PendingTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Delete removes the payload stored under id.
func (s *PendingTxStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[id]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, id)
	return nil
}

// List returns payloads of chainID, oldest first.
func (s *PendingTxStore) List(_ context.Context, chainID string) ([]*storage.PendingTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.PendingTx, 0, len(s.data))
	for _, p := range s.data {
		if chainID == "" || p.ChainID == chainID {
			cp := *p
			result = append(result, &cp)
		}
	}

	// Sort by created_at ASC, id ASC
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}
