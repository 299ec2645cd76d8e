package calllog

import (
	"context"
	"sync"
)

// MemoryRepo is a simple in-memory repository useful for tests and
// single-node deployments without Postgres.
type MemoryRepo struct {
	mu        sync.Mutex
	summaries map[string]Summary
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{summaries: make(map[string]Summary)}
}

func (r *MemoryRepo) Upsert(ctx context.Context, s Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries[s.CallSID] = s
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, callSID string) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.summaries[callSID]
	if !ok {
		return Summary{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.summaries)
}
