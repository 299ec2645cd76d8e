package restaurants

import (
	"context"
	"sync"
)

// MemoryStore is a simple in-memory store useful for tests and local runs.
// It is not intended for production use.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]RestaurantConfig
	byPhone map[string]RestaurantConfig
}

func NewMemoryStore(configs ...RestaurantConfig) *MemoryStore {
	s := &MemoryStore{
		byID:    make(map[string]RestaurantConfig),
		byPhone: make(map[string]RestaurantConfig),
	}
	for _, c := range configs {
		s.Put(c)
	}
	return s
}

func (s *MemoryStore) Put(c RestaurantConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.ID] = c
	if c.InboundNumber != "" {
		s.byPhone[c.InboundNumber] = c
	}
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (RestaurantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return RestaurantConfig{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) GetByPhone(ctx context.Context, phone string) (RestaurantConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byPhone[phone]
	if !ok {
		return RestaurantConfig{}, ErrNotFound
	}
	return c, nil
}
