package push

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Token is a registered device token.
type Token struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Platform  string    `json:"platform,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TokenStore tracks device tokens per user.
type TokenStore interface {
	// ActiveTokens returns the user's active tokens, oldest first.
	ActiveTokens(ctx context.Context, userID string) ([]string, error)
	// Register adds or reactivates a token for the user.
	Register(ctx context.Context, userID, token, platform string) error
	// Deactivate marks tokens as unusable. Unknown tokens are ignored.
	Deactivate(ctx context.Context, tokens ...string) error
}

// MemoryTokenStore is a TokenStore for tests and local development.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*Token)}
}

func (s *MemoryTokenStore) ActiveTokens(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Token
	for _, t := range s.tokens {
		if t.UserID == userID && t.Active {
			active = append(active, t)
		}
	}
	slices.SortFunc(active, func(a, b *Token) int { return a.CreatedAt.Compare(b.CreatedAt) })

	out := make([]string, len(active))
	for i, t := range active {
		out[i] = t.Token
	}
	return out, nil
}

func (s *MemoryTokenStore) Register(ctx context.Context, userID, token, platform string) error {
	if token == "" {
		return ErrEmptyToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if t, ok := s.tokens[token]; ok {
		t.UserID = userID
		t.Platform = platform
		t.Active = true
		t.UpdatedAt = now
		return nil
	}
	s.tokens[token] = &Token{
		Token:     token,
		UserID:    userID,
		Platform:  platform,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (s *MemoryTokenStore) Deactivate(ctx context.Context, tokens ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, tok := range tokens {
		if t, ok := s.tokens[tok]; ok {
			t.Active = false
			t.UpdatedAt = now
		}
	}
	return nil
}
