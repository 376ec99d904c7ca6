package decoy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/logging"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine() (*Engine, *MemoryStore, *fakeClock) {
	store := NewMemoryStore()
	clock := newFakeClock()
	e := NewEngine(store).
		WithClock(clock.Now).
		WithLogger(logging.Discard())
	return e, store, clock
}

func mustCreate(t *testing.T, e *Engine, req CreateRequest) *Session {
	t.Helper()
	s, err := e.Create(context.Background(), req)
	require.NoError(t, err)
	return s
}

func TestEngine_Create(t *testing.T) {
	e, _, clock := newTestEngine()
	ctx := context.Background()

	s := mustCreate(t, e, CreateRequest{
		Metadata:          map[string]string{"campaign": "q3-payroll"},
		AttackerIP:        "9.9.9.9",
		AttackerUserAgent: "curl/8.4.0",
	})

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, clock.Now(), s.CreatedAt)
	assert.Equal(t, clock.Now().Add(DefaultTTL), s.ExpiresAt)
	assert.Equal(t, "q3-payroll", s.Metadata["campaign"])
	assert.Empty(t, s.VisitedPages)
	assert.Nil(t, s.Capture)

	got, ok, err := e.Get(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestEngine_CreateCustomTTL(t *testing.T) {
	e, _, clock := newTestEngine()

	s := mustCreate(t, e, CreateRequest{TTL: 5 * time.Minute})
	assert.Equal(t, clock.Now().Add(5*time.Minute), s.ExpiresAt)

	_, err := e.Create(context.Background(), CreateRequest{TTL: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidTTL)

	e.WithDefaultTTL(10 * time.Minute)
	s = mustCreate(t, e, CreateRequest{})
	assert.Equal(t, clock.Now().Add(10*time.Minute), s.ExpiresAt)
}

func TestEngine_CreateCopiesMetadata(t *testing.T) {
	e, _, _ := newTestEngine()
	meta := map[string]string{"real_user": "alice"}

	s := mustCreate(t, e, CreateRequest{Metadata: meta})
	meta["real_user"] = "mallory"
	s.Metadata["real_user"] = "eve"

	got, _, err := e.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Metadata["real_user"])
}

func TestEngine_CreateRetriesOnCollision(t *testing.T) {
	e, _, _ := newTestEngine()
	ids := []string{"dup", "dup", "fresh"}
	var n int
	e.WithIDGenerator(func() string {
		id := ids[n]
		n++
		return id
	})

	first := mustCreate(t, e, CreateRequest{})
	second := mustCreate(t, e, CreateRequest{})
	assert.Equal(t, "dup", first.ID)
	assert.Equal(t, "fresh", second.ID)
}

func TestEngine_CreateGivesUpAfterRepeatedCollisions(t *testing.T) {
	e, _, _ := newTestEngine()
	e.WithIDGenerator(func() string { return "same" })

	mustCreate(t, e, CreateRequest{})
	_, err := e.Create(context.Background(), CreateRequest{})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestEngine_GetUnknown(t *testing.T) {
	e, _, _ := newTestEngine()

	s, ok, err := e.Get(context.Background(), "3f6c1f4e-1d2b-4c55-9a7e-2b1f0a9c8d7e")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, s)
}

func TestEngine_LazyExpiryPersists(t *testing.T) {
	e, store, clock := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, CreateRequest{TTL: time.Minute})

	// At the deadline the session is still active.
	clock.Advance(time.Minute)
	got, _, err := e.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	clock.Advance(time.Nanosecond)
	got, ok, err := e.Get(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusExpired, got.Status)

	// Persisted: the raw store record is expired, and a second read agrees.
	store.mu.RLock()
	raw := store.sessions[s.ID].Status
	store.mu.RUnlock()
	assert.Equal(t, StatusExpired, raw)

	again, _, err := e.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestEngine_ListActiveDoesNotExpire(t *testing.T) {
	e, store, clock := newTestEngine()
	ctx := context.Background()

	short := mustCreate(t, e, CreateRequest{TTL: time.Minute})
	long := mustCreate(t, e, CreateRequest{TTL: time.Hour})

	clock.Advance(2 * time.Minute)
	active, err := e.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, long.ID, active[0].ID)

	store.mu.RLock()
	raw := store.sessions[short.ID].Status
	store.mu.RUnlock()
	assert.Equal(t, StatusActive, raw, "listing must not flip sessions it did not fetch")
}

func TestEngine_RecordVisitIdempotent(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, CreateRequest{})

	ok, err := e.RecordVisit(ctx, s.ID, "/login")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.RecordVisit(ctx, s.ID, "/login")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.RecordVisit(ctx, s.ID, "/files")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _, _ := e.Get(ctx, s.ID)
	assert.Equal(t, []string{"/login", "/files"}, got.VisitedPages)
}

func TestEngine_RecordVisitRejectsEmptyPage(t *testing.T) {
	e, _, _ := newTestEngine()
	s := mustCreate(t, e, CreateRequest{})

	ok, err := e.RecordVisit(context.Background(), s.ID, "  ")
	assert.ErrorIs(t, err, ErrInvalidPage)
	assert.False(t, ok)
}

func TestEngine_MutationsOnUnknownSession(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	id := "3f6c1f4e-1d2b-4c55-9a7e-2b1f0a9c8d7e"

	ok, err := e.RecordVisit(ctx, id, "/login")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.RecordCapture(ctx, id, "admin", "pw", "/login")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.Terminate(ctx, id, "manual")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_ConcurrentVisitsConverge(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, CreateRequest{})

	const n = 64
	var wg sync.WaitGroup
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := e.RecordVisit(ctx, s.ID, "/login")
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	got, _, _ := e.Get(ctx, s.ID)
	assert.Equal(t, []string{"/login"}, got.VisitedPages)
}

func TestEngine_ConcurrentDistinctPagesNoLostUpdates(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, CreateRequest{})

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.RecordVisit(ctx, s.ID, fmt.Sprintf("/page/%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, _, _ := e.Get(ctx, s.ID)
	assert.Len(t, got.VisitedPages, n)
}

func TestEngine_RecordCaptureFirstWins(t *testing.T) {
	e, _, clock := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, CreateRequest{})

	ok, err := e.RecordVisit(ctx, s.ID, "/login")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.RecordCapture(ctx, s.ID, "admin", "Winter2024!", "/login")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.RecordCapture(ctx, s.ID, "root", "toor", "/vpn")
	require.NoError(t, err)
	assert.False(t, ok, "a prior capture must never be overwritten")

	got, _, _ := e.Get(ctx, s.ID)
	require.NotNil(t, got.Capture)
	assert.Equal(t, "admin", got.Capture.Username)
	assert.Equal(t, "Winter2024!", got.Capture.Password)
	assert.Equal(t, "/login", got.Capture.Page)
	assert.Equal(t, clock.Now(), got.Capture.CapturedAt)
	// Page already present: not appended again.
	assert.Equal(t, []string{"/login"}, got.VisitedPages)
}

func TestEngine_RecordCaptureAppendsNewPage(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, CreateRequest{})

	ok, err := e.RecordCapture(ctx, s.ID, "admin", "pw", "/owa/auth")
	require.NoError(t, err)
	require.True(t, ok)

	got, _, _ := e.Get(ctx, s.ID)
	assert.Equal(t, []string{"/owa/auth"}, got.VisitedPages)
}

func TestEngine_ConcurrentCapturesSingleWinner(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, CreateRequest{})

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := e.RecordCapture(ctx, s.ID, fmt.Sprintf("user%d", i), "pw", "/login")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	got, _, _ := e.Get(ctx, s.ID)
	assert.Equal(t, []string{"/login"}, got.VisitedPages)
}

func TestEngine_Terminate(t *testing.T) {
	e, _, clock := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, CreateRequest{Metadata: map[string]string{"campaign": "x"}})

	ok, err := e.Terminate(ctx, s.ID, "analyst closed")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _, _ := e.Get(ctx, s.ID)
	assert.Equal(t, StatusTerminated, got.Status)
	assert.Equal(t, "analyst closed", got.Metadata[MetaTerminationReason])
	assert.Equal(t, clock.Now().Format(time.RFC3339Nano), got.Metadata[MetaTerminatedAt])
	assert.Equal(t, "x", got.Metadata["campaign"])

	ok, err = e.Terminate(ctx, s.ID, "again")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_TerminateDefaultReason(t *testing.T) {
	e, _, _ := newTestEngine()
	s := mustCreate(t, e, CreateRequest{})

	ok, err := e.Terminate(context.Background(), s.ID, "")
	require.NoError(t, err)
	require.True(t, ok)

	got, _, _ := e.Get(context.Background(), s.ID)
	assert.Equal(t, "manual", got.Metadata[MetaTerminationReason])
}

func TestEngine_AbsorbingStates(t *testing.T) {
	ends := map[string]func(e *Engine, clock *fakeClock, id string){
		"terminated": func(e *Engine, _ *fakeClock, id string) {
			_, _ = e.Terminate(context.Background(), id, "done")
		},
		"expired": func(e *Engine, clock *fakeClock, id string) {
			clock.Advance(2 * time.Hour)
			_, _, _ = e.Get(context.Background(), id)
		},
		"overdue but unread": func(_ *Engine, clock *fakeClock, _ string) {
			clock.Advance(2 * time.Hour)
		},
	}

	for name, end := range ends {
		t.Run(name, func(t *testing.T) {
			e, store, clock := newTestEngine()
			ctx := context.Background()
			s := mustCreate(t, e, CreateRequest{})
			_, err := e.RecordVisit(ctx, s.ID, "/login")
			require.NoError(t, err)

			end(e, clock, s.ID)

			store.mu.RLock()
			before := store.sessions[s.ID].Clone()
			store.mu.RUnlock()

			ok, err := e.RecordVisit(ctx, s.ID, "/files")
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = e.RecordCapture(ctx, s.ID, "admin", "pw", "/login")
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = e.Terminate(ctx, s.ID, "late")
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = e.AttachContainer(ctx, s.ID, "ctr-1")
			require.NoError(t, err)
			assert.False(t, ok)

			store.mu.RLock()
			after := store.sessions[s.ID].Clone()
			store.mu.RUnlock()
			assert.Equal(t, before, after)
		})
	}
}

func TestEngine_AttachContainerOnce(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, CreateRequest{})

	ok, err := e.AttachContainer(ctx, s.ID, "ctr-abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.AttachContainer(ctx, s.ID, "ctr-def")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.AttachContainer(ctx, s.ID, "")
	assert.Error(t, err)

	got, _, _ := e.Get(ctx, s.ID)
	assert.Equal(t, "ctr-abc", got.ContainerID)
}

func TestEngine_ExpireDue(t *testing.T) {
	e, _, clock := newTestEngine()
	ctx := context.Background()

	a := mustCreate(t, e, CreateRequest{TTL: time.Minute})
	mustCreate(t, e, CreateRequest{TTL: time.Minute})
	keep := mustCreate(t, e, CreateRequest{TTL: time.Hour})

	clock.Advance(5 * time.Minute)
	n, err := e.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, _, _ := e.Get(ctx, a.ID)
	assert.Equal(t, StatusExpired, got.Status)
	got, _, _ = e.Get(ctx, keep.ID)
	assert.Equal(t, StatusActive, got.Status)
}

type failingStore struct {
	*MemoryStore
	err error
}

func (f *failingStore) Load(context.Context, string, time.Time) (*Session, bool, error) {
	return nil, false, f.err
}

func (f *failingStore) AppendVisit(context.Context, string, string, time.Time) (bool, error) {
	return false, f.err
}

func TestEngine_StorageErrorsSurface(t *testing.T) {
	boom := errors.New("connection reset")
	e := NewEngine(&failingStore{MemoryStore: NewMemoryStore(), err: boom}).WithLogger(logging.Discard())

	_, _, err := e.Get(context.Background(), "x")
	assert.ErrorIs(t, err, boom)

	_, err = e.RecordVisit(context.Background(), "x", "/login")
	assert.ErrorIs(t, err, boom)
}

func TestEngine_ReturnedSnapshotsAreCopies(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	s := mustCreate(t, e, CreateRequest{})
	_, _ = e.RecordVisit(ctx, s.ID, "/login")

	got, _, _ := e.Get(ctx, s.ID)
	got.VisitedPages[0] = "/tampered"
	got.Status = StatusTerminated

	again, _, _ := e.Get(ctx, s.ID)
	assert.Equal(t, []string{"/login"}, again.VisitedPages)
	assert.Equal(t, StatusActive, again.Status)
}
