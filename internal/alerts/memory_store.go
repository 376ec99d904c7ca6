package alerts

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byUser map[string][]*Alert // oldest first
}

// NewMemoryStore creates an in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byUser: make(map[string][]*Alert)}
}

func (m *MemoryStore) Insert(_ context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	a.ID = m.nextID
	cp := *a
	m.byUser[a.UserID] = append(m.byUser[a.UserID], &cp)
	return nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, unreadOnly bool, limit int) ([]*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.byUser[userID]
	var out []*Alert
	for i := len(all) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if unreadOnly && all[i].Read {
			continue
		}
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) MarkRead(_ context.Context, userID string, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.byUser[userID] {
		if a.ID == id {
			a.Read = true
			return true, nil
		}
	}
	return false, nil
}

var _ Store = (*MemoryStore)(nil)
