package mocks

import (
	"context"
	"sync"
	"time"
)

// Cache is an in-memory mock implementation of ports.Cache. It ignores TTLs
// and counts hits and misses.
type Cache struct {
	mu     sync.Mutex
	data   map[string][]byte
	Hits   int
	Misses int
}

// NewCache creates an empty mock cache.
func NewCache() *Cache {
	return &Cache{data: make(map[string][]byte)}
}

// Get returns the cached value for key.
func (m *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.data[key]
	if ok {
		m.Hits++
	} else {
		m.Misses++
	}
	return v, ok, nil
}

// Set stores a value under key.
func (m *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Len returns how many entries the cache holds.
func (m *Cache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
