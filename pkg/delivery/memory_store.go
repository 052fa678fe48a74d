package delivery

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps records in a slice. Intended for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Create(ctx context.Context, r *Record) error {
	if r == nil {
		return ErrRecordNil
	}
	prepare(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, *r)
	return nil
}

func (s *MemoryStore) HasRecent(ctx context.Context, dedupKey string, since time.Time) (bool, error) {
	if dedupKey == "" {
		return false, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.ContainsFunc(s.records, func(r Record) bool {
		return r.DedupKey == dedupKey && r.Delivered() && !r.CreatedAt.Before(since)
	}), nil
}

// Records returns a copy of every stored record in insertion order.
func (s *MemoryStore) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.records)
}

// Count returns the number of stored records.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// PurgeBefore deletes records older than before and returns how many were removed.
func (s *MemoryStore) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records)
	s.records = slices.DeleteFunc(s.records, func(r Record) bool {
		return r.CreatedAt.Before(before)
	})
	return int64(n - len(s.records)), nil
}
