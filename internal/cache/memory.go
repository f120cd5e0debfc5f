package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryKVStore keeps entries in process memory. Expired entries are dropped lazily on read.
type MemoryKVStore struct {
	mu   sync.RWMutex
	data map[string]memoryItem
	now  func() time.Time
}

type memoryItem struct {
	value   string
	expires time.Time // zero = no ttl
}

func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{
		data: make(map[string]memoryItem),
		now:  time.Now,
	}
}

func (m *MemoryKVStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	item, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return "", ErrCacheMiss
	}
	if !item.expires.IsZero() && !m.now().Before(item.expires) {
		m.mu.Lock()
		// re-check, a writer may have refreshed the entry in between
		if cur, ok := m.data[key]; ok && cur.expires.Equal(item.expires) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return "", ErrCacheMiss
	}
	return item.value, nil
}

func (m *MemoryKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.data[key] = memoryItem{value: value, expires: exp}
	m.mu.Unlock()
	return nil
}

func (m *MemoryKVStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
