// Package syncutil holds small locking primitives shared by the in-memory stores.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// KeyedMutex serializes work per key using a fixed pool of lock shards, so
// memory stays bounded no matter how many session ids pass through. Two keys
// that hash to the same shard share a lock; that only costs throughput.
//
// The zero value is not usable; call NewKeyedMutex.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex returns a KeyedMutex with every shard unlocked.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// Lock acquires the shard for key and returns its unlock function. It gives
// up with ctx.Err() if ctx ends first; the caller must not unlock in that case.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	ch := m.shards[shardOf(key)]
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the shard for key only if it is free right now.
func (m *KeyedMutex) TryLock(key string) (func(), bool) {
	ch := m.shards[shardOf(key)]
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return nil, false
	}
}

func shardOf(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
