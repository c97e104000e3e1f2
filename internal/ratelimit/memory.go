package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps buckets in process memory. It is correct for a single
// gateway instance only.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*Bucket)}
}

func (s *MemoryStore) Take(ctx context.Context, key string, p Policy, now time.Time) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		b = &Bucket{Key: key}
		s.buckets[key] = b
	}
	next, d := Take(*b, p, now)
	*b = next
	return d, nil
}

// Snapshot returns a copy of the bucket for key.
func (s *MemoryStore) Snapshot(key string) (Bucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		return Bucket{}, false
	}
	return *b, true
}

var _ Store = (*MemoryStore)(nil)
