package ratelimit

import (
	"context"
	"sync"
	"time"
)

// CounterStore is the atomic increment-with-expiry contract the limiter
// needs. *storage.RedisClient satisfies it in production; MemStore is
// the in-process implementation for tests and single-binary
// deployments. The store, not the limiter, guarantees that
// increment-and-read-new-value is atomic across concurrent callers.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// In-process counter store with lazy TTL expiry.
type MemStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter
	now      func() time.Time
}

type memCounter struct {
	count     int64
	expiresAt time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		counters: make(map[string]*memCounter),
		now:      time.Now,
	}
}

func (m *MemStore) Incr(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || (!c.expiresAt.IsZero() && m.now().After(c.expiresAt)) {
		c = &memCounter{}
		m.counters[key] = c
	}

	c.count++
	return c.count, nil
}

func (m *MemStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.counters[key]; ok {
		c.expiresAt = m.now().Add(ttl)
	}
	return nil
}

// Len reports the number of live counters. Used in tests to assert the
// unlimited tier never touches the store.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}
