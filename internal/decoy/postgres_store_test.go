//go:build integration

package decoy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/logging"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/testutil"
)

func newPGEngine(t *testing.T) (*Engine, *PostgresStore, *fakeClock) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	t.Cleanup(cleanup)

	store := NewPostgresStore(db)
	clock := newFakeClock()
	e := NewEngine(store).WithClock(clock.Now).WithLogger(logging.Discard())
	return e, store, clock
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	e, _, _ := newPGEngine(t)
	ctx := context.Background()

	s, err := e.Create(ctx, CreateRequest{
		Metadata:          map[string]string{"source": "credential_sentinel_trap", "real_user": "alice"},
		AttackerIP:        "9.9.9.9",
		AttackerUserAgent: "curl/8.4.0",
	})
	require.NoError(t, err)

	got, ok, err := e.Get(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, "alice", got.Metadata["real_user"])
	assert.Equal(t, "9.9.9.9", got.AttackerIP)
	assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))
	assert.Empty(t, got.VisitedPages)
	assert.Nil(t, got.Capture)

	_, ok, err = e.Get(ctx, "3f6c1f4e-1d2b-4c55-9a7e-2b1f0a9c8d7e")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStore_DuplicateID(t *testing.T) {
	_, store, clock := newPGEngine(t)
	ctx := context.Background()
	s := &Session{
		ID: "dup-id", CreatedAt: clock.Now(), ExpiresAt: clock.Now().Add(time.Hour),
		Status: StatusActive, VisitedPages: []string{},
	}
	require.NoError(t, store.Insert(ctx, s))
	assert.ErrorIs(t, store.Insert(ctx, s), ErrDuplicateID)
}

func TestPostgresStore_VisitCaptureTerminate(t *testing.T) {
	e, _, _ := newPGEngine(t)
	ctx := context.Background()
	s, err := e.Create(ctx, CreateRequest{})
	require.NoError(t, err)

	ok, err := e.RecordVisit(ctx, s.ID, "/login")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.RecordVisit(ctx, s.ID, "/login")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.RecordCapture(ctx, s.ID, "admin", "Winter2024!", "/vpn")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.RecordCapture(ctx, s.ID, "root", "toor", "/vpn")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.AttachContainer(ctx, s.ID, "ctr-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Terminate(ctx, s.ID, "contained")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _, err := e.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusTerminated, got.Status)
	assert.Equal(t, []string{"/login", "/vpn"}, got.VisitedPages)
	require.NotNil(t, got.Capture)
	assert.Equal(t, "admin", got.Capture.Username)
	assert.Equal(t, "contained", got.Metadata[MetaTerminationReason])
	assert.NotEmpty(t, got.Metadata[MetaTerminatedAt])
	assert.Equal(t, "ctr-1", got.ContainerID)

	ok, err = e.RecordVisit(ctx, s.ID, "/files")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStore_LazyExpiry(t *testing.T) {
	e, _, clock := newPGEngine(t)
	ctx := context.Background()
	s, err := e.Create(ctx, CreateRequest{TTL: time.Minute})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	active, err := e.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	ok, err := e.RecordVisit(ctx, s.ID, "/login")
	require.NoError(t, err)
	assert.False(t, ok, "overdue session must reject mutations before the flip")

	got, _, err := e.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)

	again, _, err := e.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, again.Status)
}

func TestPostgresStore_ConcurrentVisits(t *testing.T) {
	e, _, _ := newPGEngine(t)
	ctx := context.Background()
	s, err := e.Create(ctx, CreateRequest{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.RecordVisit(ctx, s.ID, "/login")
			assert.NoError(t, err)
		}()
		go func(i int) {
			defer wg.Done()
			_, err := e.RecordVisit(ctx, s.ID, fmt.Sprintf("/doc/%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, _, err := e.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Len(t, got.VisitedPages, 21)

	seen := map[string]int{}
	for _, p := range got.VisitedPages {
		seen[p]++
	}
	assert.Equal(t, 1, seen["/login"])
}

func TestPostgresStore_ExpireDue(t *testing.T) {
	e, _, clock := newPGEngine(t)
	ctx := context.Background()

	_, err := e.Create(ctx, CreateRequest{TTL: time.Minute})
	require.NoError(t, err)
	_, err = e.Create(ctx, CreateRequest{TTL: time.Hour})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	n, err := e.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
