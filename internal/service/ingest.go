package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/booksearch/internal/domain/model"
	"github.com/bigkaa/booksearch/internal/events"
	"github.com/bigkaa/booksearch/internal/repository"
)

// dateLayout - формат даты без времени в параметрах startDate/endDate.
const dateLayout = "2006-01-02"

// LogQuery - параметры запроса журнала поиска в транспортной форме.
type LogQuery struct {
	StartDate string
	EndDate   string
	Operation string
	Page      int
	Limit     int
}

// IngestService - приём событий поиска и выдача журнала.
type IngestService struct {
	logs   repository.SearchLogRepository
	now    func() time.Time
	logger *slog.Logger
}

// NewIngestService создаёт IngestService.
func NewIngestService(logs repository.SearchLogRepository, logger *slog.Logger) *IngestService {
	return &IngestService{
		logs:   logs,
		now:    time.Now,
		logger: logger.With(slog.String("component", "ingest_service")),
	}
}

// HandleEvent декодирует и сохраняет событие. Некорректные сообщения
// помечаются как окончательные ошибки (events.Permanent), ошибки хранилища
// возвращаются как есть и допускают повторную доставку.
func (s *IngestService) HandleEvent(ctx context.Context, body []byte) error {
	var ev model.SearchEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return events.Permanent(fmt.Errorf("%w: декодирование события: %w", ErrValidation, err))
	}
	if err := validateEvent(&ev); err != nil {
		return events.Permanent(err)
	}

	// Событие без идентификатора не дедуплицируется
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}

	entry := &model.SearchLog{
		ID:           uuid.NewString(),
		EventID:      ev.EventID,
		Operation:    ev.Operation,
		Timestamp:    ev.Timestamp.UTC(),
		Query:        ev.Query,
		ResultsCount: ev.ResultsCount,
		Duration:     ev.Duration,
		Success:      ev.Success,
		IngestedAt:   s.now().UTC(),
	}
	if ev.Error != "" {
		msg := ev.Error
		entry.Error = &msg
	}

	inserted, err := s.logs.Insert(ctx, entry)
	if err != nil {
		return fmt.Errorf("сохранение события %s: %w", ev.EventID, err)
	}
	if !inserted {
		s.logger.Info("Повторная доставка события проигнорирована",
			slog.String("event_id", ev.EventID),
		)
		return nil
	}

	s.logger.Debug("Событие поиска сохранено",
		slog.String("event_id", ev.EventID),
		slog.String("operation", string(ev.Operation)),
	)
	return nil
}

func validateEvent(ev *model.SearchEvent) error {
	if !ev.Operation.Valid() {
		return fmt.Errorf("%w: неизвестная операция %q", ErrValidation, ev.Operation)
	}
	if ev.Timestamp.IsZero() {
		return fmt.Errorf("%w: отсутствует timestamp", ErrValidation)
	}
	if ev.ResultsCount < 0 || ev.Duration < 0 {
		return fmt.Errorf("%w: resultsCount и duration не могут быть отрицательными", ErrValidation)
	}
	return nil
}

// GetLogs возвращает страницу журнала поиска. Границы дат включительны;
// endDate без времени охватывает весь день.
func (s *IngestService) GetLogs(ctx context.Context, q LogQuery) (*model.LogPage, error) {
	if err := validatePage(q.Page, q.Limit); err != nil {
		return nil, err
	}

	filter := repository.LogFilter{Page: q.Page, Limit: q.Limit}

	if q.StartDate != "" {
		t, _, err := parseDate(q.StartDate)
		if err != nil {
			return nil, fmt.Errorf("%w: startDate: %v", ErrValidation, err)
		}
		filter.Start = &t
	}
	if q.EndDate != "" {
		t, dateOnly, err := parseDate(q.EndDate)
		if err != nil {
			return nil, fmt.Errorf("%w: endDate: %v", ErrValidation, err)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		filter.End = &t
	}
	if filter.Start != nil && filter.End != nil && filter.Start.After(*filter.End) {
		return nil, fmt.Errorf("%w: startDate позже endDate", ErrValidation)
	}

	if strings.TrimSpace(q.Operation) != "" {
		op, ok := model.ParseOperation(q.Operation)
		if !ok {
			return nil, fmt.Errorf("%w: неизвестная операция %q", ErrValidation, q.Operation)
		}
		filter.Operation = &op
	}

	items, total, err := s.logs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение журнала поиска: %w", ErrPersistence, err)
	}
	if items == nil {
		items = []model.SearchLog{}
	}

	return &model.LogPage{
		Items: items,
		Total: total,
		Page:  q.Page,
		Pages: repository.Pages(total, q.Limit),
		Limit: q.Limit,
	}, nil
}

// parseDate принимает RFC3339 или YYYY-MM-DD (полночь UTC).
func parseDate(s string) (t time.Time, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), false, nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, fmt.Errorf("ожидается RFC3339 или YYYY-MM-DD, получено %q", s)
}
