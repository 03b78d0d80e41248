package rendercache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is an in-process LRU with per-entry expiry.
type MemoryStore struct {
	lru *expirable.LRU[string, Entry]
}

// NewMemoryStore holds at most size entries, each for ttl. ttl <= 0 keeps
// entries until they are evicted by size.
func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	if size <= 0 {
		size = 256
	}
	if ttl < 0 {
		ttl = 0
	}
	return &MemoryStore{lru: expirable.NewLRU[string, Entry](size, nil, ttl)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (m *MemoryStore) Put(_ context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.lru.Add(e.Key, *e)
	return nil
}

func (m *MemoryStore) Len() int { return m.lru.Len() }
