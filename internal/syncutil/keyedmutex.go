// Package syncutil provides locking primitives keyed by string.
package syncutil

import (
	"context"
	"hash/fnv"
)

const defaultShards = 256

// KeyedMutex serializes work per key using a fixed pool of shards. Two keys
// that hash to the same shard also serialize with each other; memory stays
// bounded no matter how many keys are seen.
type KeyedMutex struct {
	shards []chan struct{}
}

// NewKeyedMutex creates a KeyedMutex with n shards. n <= 0 selects the
// default of 256.
func NewKeyedMutex(n int) *KeyedMutex {
	if n <= 0 {
		n = defaultShards
	}
	m := &KeyedMutex{shards: make([]chan struct{}, n)}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// Lock blocks until key's shard is free and returns the unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	ch := m.shard(key)
	ch <- struct{}{}
	return func() { <-ch }
}

// LockContext is Lock but gives up when ctx is done.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	ch := m.shard(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *KeyedMutex) shard(key string) chan struct{} {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}
