// Пакет cache - кэш результатов запросов (cache-aside).
// QueryCache хранит сериализованные в JSON ответы с TTL на ключ.
// Бэкенд - Redis (общий для всех экземпляров) или in-process LRU.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss - ключ отсутствует или истёк.
var ErrMiss = errors.New("ключ отсутствует в кэше")

// Store - бэкенд кэша: байтовые значения с TTL на ключ.
type Store interface {
	// Get возвращает значение или ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set сохраняет значение с указанным TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete удаляет ключ. Отсутствие ключа не ошибка.
	Delete(ctx context.Context, key string) error
}
