package metrics

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/booksearch/internal/domain/model"
)

// RedisTimeSeriesStore - SeriesStore поверх модуля RedisTimeSeries.
type RedisTimeSeriesStore struct {
	client *redis.Client

	mu      sync.RWMutex
	options map[string]SeriesOptions
}

// NewRedisTimeSeriesStore создаёт хранилище рядов.
func NewRedisTimeSeriesStore(client *redis.Client) *RedisTimeSeriesStore {
	return &RedisTimeSeriesStore{
		client:  client,
		options: make(map[string]SeriesOptions),
	}
}

// Create выполняет TS.CREATE. Параметры ряда запоминаются и передаются
// в TS.ADD, поэтому ряд, удалённый из Redis, пересоздаётся с теми же меткой и retention.
func (s *RedisTimeSeriesStore) Create(ctx context.Context, key string, opts SeriesOptions) error {
	s.mu.Lock()
	s.options[key] = opts
	s.mu.Unlock()

	err := s.client.TSCreateWithArgs(ctx, key, tsOptions(opts)).Err()
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return ErrSeriesExists
		}
		return fmt.Errorf("TS.CREATE %s: %w", key, err)
	}
	return nil
}

// maxAddAttempts - сколько соседних миллисекунд пробует Add при занятой метке.
const maxAddAttempts = 100

// Add выполняет TS.ADD. Ряды создаются с DUPLICATE_POLICY BLOCK: при занятой
// метке запись повторяется с ts+1, чтобы не потерять значение.
func (s *RedisTimeSeriesStore) Add(ctx context.Context, key string, ts int64, value float64) error {
	s.mu.RLock()
	opts, known := s.options[key]
	s.mu.RUnlock()

	var err error
	for attempt := 0; attempt < maxAddAttempts; attempt++ {
		if known {
			err = s.client.TSAddWithArgs(ctx, key, ts+int64(attempt), value, tsOptions(opts)).Err()
		} else {
			err = s.client.TSAddWithArgs(ctx, key, ts+int64(attempt), value, &redis.TSOptions{DuplicatePolicy: duplicatePolicy}).Err()
		}
		if err == nil {
			return nil
		}
		if !isDuplicate(err) {
			break
		}
	}
	return fmt.Errorf("TS.ADD %s: %w", key, err)
}

// Range выполняет TS.RANGE без агрегации.
func (s *RedisTimeSeriesStore) Range(ctx context.Context, key string, from, to int64) ([]model.MetricPoint, error) {
	values, err := s.client.TSRange(ctx, key, int(from), int(to)).Result()
	if err != nil {
		if isMissingKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("TS.RANGE %s: %w", key, err)
	}
	return toPoints(values), nil
}

// RangeAggregated выполняет TS.RANGE ... AGGREGATION avg <bucket>.
func (s *RedisTimeSeriesStore) RangeAggregated(ctx context.Context, key string, from, to, bucket int64) ([]model.MetricPoint, error) {
	values, err := s.client.TSRangeWithArgs(ctx, key, int(from), int(to), &redis.TSRangeOptions{
		Aggregator:     redis.Avg,
		BucketDuration: int(bucket),
	}).Result()
	if err != nil {
		if isMissingKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("TS.RANGE %s AGGREGATION avg: %w", key, err)
	}
	return toPoints(values), nil
}

func tsOptions(opts SeriesOptions) *redis.TSOptions {
	return &redis.TSOptions{
		Retention:       int(opts.Retention.Milliseconds()),
		Labels:          opts.Labels,
		DuplicatePolicy: duplicatePolicy,
	}
}

// duplicatePolicy - повторная метка отклоняется, а не перезаписывает точку.
const duplicatePolicy = "BLOCK"

// isDuplicate - TS.ADD отклонён из-за занятой метки (DUPLICATE_POLICY BLOCK).
func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "block mode")
}

// isMissingKey - чтение ряда, который ещё не создан, даёт пустой результат.
func isMissingKey(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "key does not exist") || strings.Contains(msg, "the key does not exist")
}

func toPoints(values []redis.TSTimestampValue) []model.MetricPoint {
	points := make([]model.MetricPoint, 0, len(values))
	for _, v := range values {
		points = append(points, model.MetricPoint{Timestamp: v.Timestamp, Value: v.Value})
	}
	return points
}
