package metrics

import (
	"context"
	"sort"
	"sync"

	"github.com/bigkaa/booksearch/internal/domain/model"
)

type memorySeries struct {
	opts   SeriesOptions
	points []model.MetricPoint
}

// MemorySeriesStore - SeriesStore в памяти процесса. Точки старше retention
// (относительно последней записанной) удаляются при записи. Точка с уже
// занятой меткой сдвигается на ближайшую свободную миллисекунду.
type MemorySeriesStore struct {
	mu     sync.RWMutex
	series map[string]*memorySeries
}

// NewMemorySeriesStore создаёт пустое хранилище.
func NewMemorySeriesStore() *MemorySeriesStore {
	return &MemorySeriesStore{series: make(map[string]*memorySeries)}
}

func (s *MemorySeriesStore) Create(_ context.Context, key string, opts SeriesOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.series[key]; ok {
		return ErrSeriesExists
	}
	s.series[key] = &memorySeries{opts: opts}
	return nil
}

func (s *MemorySeriesStore) Add(_ context.Context, key string, ts int64, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.series[key]
	if !ok {
		return ErrNoSeries
	}

	// Метки уникальны и отсортированы: занятые подряд метки пропускаются
	i := sort.Search(len(sr.points), func(i int) bool { return sr.points[i].Timestamp >= ts })
	for i < len(sr.points) && sr.points[i].Timestamp == ts {
		ts++
		i++
	}
	sr.points = append(sr.points, model.MetricPoint{})
	copy(sr.points[i+1:], sr.points[i:])
	sr.points[i] = model.MetricPoint{Timestamp: ts, Value: value}

	if retention := sr.opts.Retention.Milliseconds(); retention > 0 {
		cutoff := sr.points[len(sr.points)-1].Timestamp - retention
		j := sort.Search(len(sr.points), func(i int) bool { return sr.points[i].Timestamp >= cutoff })
		sr.points = append(sr.points[:0], sr.points[j:]...)
	}
	return nil
}

func (s *MemorySeriesStore) Range(_ context.Context, key string, from, to int64) ([]model.MetricPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[key]
	if !ok {
		return nil, nil
	}
	var out []model.MetricPoint
	for _, p := range sr.points {
		if p.Timestamp >= from && p.Timestamp <= to {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemorySeriesStore) RangeAggregated(ctx context.Context, key string, from, to, bucket int64) ([]model.MetricPoint, error) {
	raw, err := s.Range(ctx, key, from, to)
	if err != nil || len(raw) == 0 || bucket <= 0 {
		return raw, err
	}

	// Корзины выровнены по 0, как в RedisTimeSeries
	var out []model.MetricPoint
	var sum float64
	var n int
	start := raw[0].Timestamp - raw[0].Timestamp%bucket
	for _, p := range raw {
		b := p.Timestamp - p.Timestamp%bucket
		if b != start {
			out = append(out, model.MetricPoint{Timestamp: start, Value: sum / float64(n)})
			start, sum, n = b, 0, 0
		}
		sum += p.Value
		n++
	}
	out = append(out, model.MetricPoint{Timestamp: start, Value: sum / float64(n)})
	return out, nil
}
