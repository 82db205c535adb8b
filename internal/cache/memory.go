package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// memoryEntry - значение с собственным сроком жизни.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore - in-process Store на expirable LRU.
// expirable.LRU поддерживает один TTL на весь кэш, поэтому он задаёт только
// верхнюю границу хранения, а TTL конкретного ключа проверяется по expiresAt.
// Используется, когда Redis не настроен (один экземпляр сервиса).
type MemoryStore struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

// NewMemoryStore создаёт in-process Store.
// maxEntries - максимальное количество ключей, maxTTL - предельный срок жизни записи.
func NewMemoryStore(maxEntries int, maxTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		lru: expirable.NewLRU[string, memoryEntry](maxEntries, nil, maxTTL),
		now: time.Now,
	}
}

// Get возвращает значение или ErrMiss (в том числе для истёкшего ключа).
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !s.now().Before(e.expiresAt) {
		s.lru.Remove(key)
		return nil, ErrMiss
	}
	return e.value, nil
}

// Set сохраняет копию значения с TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	s.lru.Add(key, memoryEntry{value: buf, expiresAt: s.now().Add(ttl)})
	return nil
}

// Delete удаляет ключ.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.lru.Remove(key)
	return nil
}

// Len возвращает количество записей (включая ещё не вытесненные истёкшие).
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
