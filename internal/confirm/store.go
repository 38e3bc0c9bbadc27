package confirm

import (
	"context"
	"sync"
	"time"
)

// UsedTokenStore records consumed token ids. Consume must be atomic: of two
// concurrent calls with the same id, exactly one returns true.
type UsedTokenStore interface {
	// Consume marks the token id used. Returns true if this call was the
	// first use. The entry may be dropped after ttl, when the token can no
	// longer verify anyway.
	Consume(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)

	// Close releases any resources held by the store.
	Close() error
}

// MemoryTokenStore is an in-process UsedTokenStore.
type MemoryTokenStore struct {
	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

// NewMemoryTokenStore creates an empty in-memory store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		used: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Consume marks the token used under the store lock.
func (s *MemoryTokenStore) Consume(ctx context.Context, tokenID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	// Opportunistic sweep of entries past their retention.
	for id, expiry := range s.used {
		if now.After(expiry) {
			delete(s.used, id)
		}
	}

	if _, exists := s.used[tokenID]; exists {
		return false, nil
	}
	s.used[tokenID] = now.Add(ttl)
	return true, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryTokenStore) Close() error { return nil }
