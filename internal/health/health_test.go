package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryEmpty(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	assert.True(t, healthy, "empty registry should be healthy")
	assert.Empty(t, statuses)
}

func TestRegistryAllHealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", Ping("database", func(context.Context) error { return nil }))
	r.Register("sweeper", Running("sweeper", func() bool { return true }))

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	require.Len(t, statuses, 2)
	assert.Equal(t, "database", statuses[0].Name)
	assert.Equal(t, "sweeper", statuses[1].Name)
}

func TestRegistryOneUnhealthy(t *testing.T) {
	r := NewRegistry()
	r.Register("database", Ping("database", func(context.Context) error { return nil }))
	r.Register("redis", Ping("redis", func(context.Context) error { return errors.New("connection refused") }))
	r.Register("hub", Running("hub", func() bool { return false }))

	healthy, statuses := r.CheckAll(context.Background())
	assert.False(t, healthy)
	require.Len(t, statuses, 3)
	assert.True(t, statuses[0].Healthy)
	assert.Equal(t, "connection refused", statuses[1].Detail)
	assert.Equal(t, "not running", statuses[2].Detail)
}

func TestRegistryTimeout(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	r.Register("slow", func(ctx context.Context) Status {
		time.Sleep(time.Second)
		return Status{Healthy: true}
	})

	start := time.Now()
	healthy, statuses := r.CheckAll(context.Background())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, healthy)
	assert.Equal(t, "slow", statuses[0].Name)
	assert.Equal(t, "timed out", statuses[0].Detail)
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", Running("checker", func() bool { return true }))
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()

	healthy, statuses := r.CheckAll(context.Background())
	assert.True(t, healthy)
	assert.Len(t, statuses, 10)
}
