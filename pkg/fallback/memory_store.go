package fallback

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements Store in process memory for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Item
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]*Item)}
}

func (s *MemoryStore) Insert(ctx context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeLocked(item.DedupKey) != nil {
		return ErrDuplicate
	}

	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *MemoryStore) FindActive(ctx context.Context, dedupKey string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it := s.activeLocked(dedupKey)
	if it == nil {
		return nil, ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *MemoryStore) activeLocked(dedupKey string) *Item {
	for _, it := range s.items {
		if it.DedupKey == dedupKey && it.Status.Active() {
			return it
		}
	}
	return nil
}

func (s *MemoryStore) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []Item
	for _, it := range s.items {
		if isDue(it, now, staleBefore) {
			due = append(due, *it)
		}
	}

	slices.SortFunc(due, func(a, b Item) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) Claim(ctx context.Context, id uuid.UUID, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return false, ErrItemNotFound
	}
	if !isDue(it, now, staleBefore) {
		return false, nil
	}

	if it.Status == StatusProcessing {
		it.RetryCount++
	}
	it.Status = StatusProcessing
	it.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) MarkSent(ctx context.Context, id uuid.UUID, now time.Time) error {
	return s.update(id, func(it *Item) {
		it.Status = StatusSent
		it.LastError = ""
		it.UpdatedAt = now
	})
}

func (s *MemoryStore) Reschedule(ctx context.Context, id uuid.UUID, retryCount int, scheduledFor time.Time, errMsg string, now time.Time) error {
	return s.update(id, func(it *Item) {
		it.Status = StatusPending
		it.RetryCount = retryCount
		it.ScheduledFor = scheduledFor
		it.LastError = errMsg
		it.UpdatedAt = now
	})
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id uuid.UUID, retryCount int, errMsg string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return ErrItemNotFound
	}
	if it.Status == StatusSent {
		return ErrInvalidTransition
	}
	it.Status = StatusFailed
	it.RetryCount = retryCount
	it.LastError = errMsg
	it.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Purge(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, it := range s.items {
		if (it.Status == StatusSent || it.Status == StatusFailed) && it.UpdatedAt.Before(before) {
			delete(s.items, id)
			n++
		}
	}
	return n, nil
}

// Items returns a snapshot of every stored item.
func (s *MemoryStore) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, *it)
	}
	slices.SortFunc(out, func(a, b Item) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// update applies fn to an item that must currently be processing.
func (s *MemoryStore) update(id uuid.UUID, fn func(*Item)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok {
		return ErrItemNotFound
	}
	if it.Status != StatusProcessing {
		return ErrInvalidTransition
	}
	fn(it)
	return nil
}

func isDue(it *Item, now, staleBefore time.Time) bool {
	switch it.Status {
	case StatusPending:
		return !it.ScheduledFor.After(now)
	case StatusProcessing:
		return it.UpdatedAt.Before(staleBefore)
	default:
		return false
	}
}
