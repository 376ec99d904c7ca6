package risk

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu          sync.RWMutex
	assessments map[string][]*Assessment // username → assessments, oldest first
}

// NewMemoryStore creates an in-memory risk assessment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assessments: make(map[string][]*Assessment),
	}
}

func (s *MemoryStore) Record(_ context.Context, a *Assessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.assessments[a.Username] = append(s.assessments[a.Username], &cp)
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, username string, limit int) ([]*Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.assessments[username]
	if len(all) == 0 {
		return nil, nil
	}

	// Most recent first, up to limit
	start := len(all) - limit
	if start < 0 {
		start = 0
	}

	result := make([]*Assessment, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		cp := *all[i]
		result = append(result, &cp)
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
