package quota

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	value    int64
	expireAt time.Time
}

// MemoryStore is a process-local Store. Expired counters are dropped lazily on access.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock replaces time.Now for expiry checks.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(ms *MemoryStore) {
		if now != nil {
			ms.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		counters: make(map[string]*counter),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

func (ms *MemoryStore) IncrBy(ctx context.Context, key string, n int64, expireAt time.Time) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	c := ms.live(key)
	if c == nil {
		c = &counter{}
		ms.counters[key] = c
	}
	c.value += n
	c.expireAt = expireAt

	return c.value, nil
}

func (ms *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if c := ms.live(key); c != nil {
		return c.value, nil
	}
	return 0, nil
}

// live must be called with mu held.
func (ms *MemoryStore) live(key string) *counter {
	c, ok := ms.counters[key]
	if !ok {
		return nil
	}
	if !c.expireAt.IsZero() && !ms.now().Before(c.expireAt) {
		delete(ms.counters, key)
		return nil
	}
	return c
}
