package gate

import (
	"context"
	"sync"
	"time"
)

// PreferenceStore loads and saves user preferences. Get creates and persists
// the defaults for a user that has none yet.
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (Preferences, error)
	Save(ctx context.Context, p Preferences) error
}

// MemoryStore is a PreferenceStore for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]Preferences
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: make(map[string]Preferences)}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (Preferences, error) {
	if userID == "" {
		return Preferences{}, ErrEmptyUserID
	}

	s.mu.RLock()
	p, ok := s.prefs[userID]
	s.mu.RUnlock()
	if ok {
		return clonePreferences(p), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have created the row in the meantime.
	if p, ok := s.prefs[userID]; ok {
		return clonePreferences(p), nil
	}
	p = DefaultPreferences(userID)
	s.prefs[userID] = p
	return clonePreferences(p), nil
}

func (s *MemoryStore) Save(ctx context.Context, p Preferences) error {
	if p.UserID == "" {
		return ErrEmptyUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.prefs[p.UserID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.prefs[p.UserID] = clonePreferences(p)
	return nil
}

func clonePreferences(p Preferences) Preferences {
	types := make(map[string]bool, len(p.Types))
	for k, v := range p.Types {
		types[k] = v
	}
	channels := make(map[Channel]bool, len(p.Channels))
	for k, v := range p.Channels {
		channels[k] = v
	}
	p.Types = types
	p.Channels = channels
	return p
}
