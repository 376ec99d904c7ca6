package decoy

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/syncutil"
)

// MemoryStore is an in-memory session store for demo/development mode.
//
// Stored sessions are never modified in place: a mutation builds a new copy
// under the session's key lock and swaps it into the map, so readers holding
// only mu always see a whole snapshot.
type MemoryStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	keys     *syncutil.KeyedMutex
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		keys:     syncutil.NewKeyedMutex(),
	}
}

func (m *MemoryStore) Insert(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return ErrDuplicateID
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, id string, now time.Time) (*Session, bool, error) {
	var flipped bool
	out, err := m.mutate(ctx, id, func(cur *Session) *Session {
		if cur.Status != StatusActive || !cur.pastDeadline(now) {
			return nil
		}
		next := cur.Clone()
		next.Status = StatusExpired
		flipped = true
		return next
	})
	if err != nil {
		return nil, false, err
	}
	return out, flipped, nil
}

func (m *MemoryStore) AppendVisit(ctx context.Context, id, page string, now time.Time) (bool, error) {
	return m.guarded(ctx, id, now, func(cur *Session) *Session {
		if cur.HasVisited(page) {
			return nil
		}
		next := cur.Clone()
		next.VisitedPages = append(next.VisitedPages, page)
		return next
	})
}

func (m *MemoryStore) SaveCapture(ctx context.Context, id string, c Capture, now time.Time) (bool, error) {
	return m.guarded(ctx, id, now, func(cur *Session) *Session {
		if cur.Capture != nil {
			return nil
		}
		next := cur.Clone()
		next.Capture = &c
		if !next.HasVisited(c.Page) {
			next.VisitedPages = append(next.VisitedPages, c.Page)
		}
		return next
	})
}

func (m *MemoryStore) Terminate(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	return m.guarded(ctx, id, now, func(cur *Session) *Session {
		next := cur.Clone()
		next.Status = StatusTerminated
		if next.Metadata == nil {
			next.Metadata = make(map[string]string, 2)
		}
		next.Metadata[MetaTerminationReason] = reason
		next.Metadata[MetaTerminatedAt] = now.UTC().Format(time.RFC3339Nano)
		return next
	})
}

func (m *MemoryStore) AttachContainer(ctx context.Context, id, containerID string, now time.Time) (bool, error) {
	return m.guarded(ctx, id, now, func(cur *Session) *Session {
		if cur.ContainerID != "" {
			return nil
		}
		next := cur.Clone()
		next.ContainerID = containerID
		return next
	})
}

func (m *MemoryStore) ListActive(_ context.Context, now time.Time) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Session
	for _, s := range m.sessions {
		if s.IsActive(now) {
			result = append(result, s.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func (m *MemoryStore) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	m.mu.RLock()
	var due []string
	for id, s := range m.sessions {
		if s.Status == StatusActive && s.pastDeadline(now) {
			due = append(due, id)
		}
	}
	m.mu.RUnlock()

	count := 0
	for _, id := range due {
		_, flipped, err := m.Load(ctx, id, now)
		if err != nil {
			return count, err
		}
		if flipped {
			count++
		}
	}
	return count, nil
}

// guarded runs fn only while the session is active at now and reports
// whether fn produced a change. Unknown ids report false.
func (m *MemoryStore) guarded(ctx context.Context, id string, now time.Time, fn func(cur *Session) *Session) (bool, error) {
	changed := false
	_, err := m.mutate(ctx, id, func(cur *Session) *Session {
		if !cur.IsActive(now) {
			return nil
		}
		next := fn(cur)
		changed = next != nil
		return next
	})
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return changed, nil
}

// mutate serializes a read-modify-write on one session. fn returns the
// replacement or nil to leave the record alone. The post-call snapshot is
// returned as a copy.
func (m *MemoryStore) mutate(ctx context.Context, id string, fn func(cur *Session) *Session) (*Session, error) {
	unlock, err := m.keys.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m.mu.RLock()
	cur, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	next := fn(cur)
	if next == nil {
		return cur.Clone(), nil
	}

	m.mu.Lock()
	m.sessions[id] = next
	m.mu.Unlock()
	return next.Clone(), nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
