package ticketstore

import (
	"context"
	"errors"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is an in-process Store backed by patrickmn/go-cache, for
// local development and tests where no Redis instance is available. It
// guards the cache with a mutex to make GET+DEL atomic, since go-cache's
// own API does not offer a combined get-and-delete.
type MemoryStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewMemoryStore constructs a MemoryStore with the given default ticket
// TTL and cleanup interval, matching go-cache's constructor shape.
func NewMemoryStore(defaultTTL, cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{cache: gocache.New(defaultTTL, cleanupInterval)}
}

// ConsumeTicket implements Store.
func (s *MemoryStore) ConsumeTicket(ctx context.Context, ticket string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.cache.Get(ticketKey(ticket))
	if !ok {
		return "", false, nil
	}
	s.cache.Delete(ticketKey(ticket))
	characterID, ok := val.(string)
	if !ok {
		return "", false, nil
	}
	return characterID, true, nil
}

// IssueTicket implements Store.
func (s *MemoryStore) IssueTicket(ctx context.Context, ticket string, characterID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache.Get(ticketKey(ticket)); ok {
		return errors.New("ticketstore: ticket already issued")
	}
	s.cache.Set(ticketKey(ticket), characterID, ttl)
	return nil
}
