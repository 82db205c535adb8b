package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/booksearch/internal/domain/model"
)

// searchLogColumns - список столбцов таблицы search_logs.
const searchLogColumns = `id, event_id, operation, "timestamp", query,
	results_count, duration_ms, success, error, ingested_at`

// LogFilter - параметры выборки журнала поиска.
type LogFilter struct {
	// Start - нижняя граница timestamp (включительно)
	Start *time.Time
	// End - верхняя граница timestamp (включительно)
	End *time.Time
	// Operation - фильтр по типу операции
	Operation *model.Operation
	// Page - номер страницы (с 1)
	Page int
	// Limit - размер страницы
	Limit int
}

// SearchLogRepository - интерфейс доступа к журналу поиска.
type SearchLogRepository interface {
	// Insert сохраняет запись. Повторная запись с тем же EventID игнорируется:
	// inserted = false, ошибки нет.
	Insert(ctx context.Context, log *model.SearchLog) (inserted bool, err error)
	// List возвращает страницу записей (новые первыми) и общее количество.
	List(ctx context.Context, filter LogFilter) ([]model.SearchLog, int, error)
}

// searchLogRepo - реализация SearchLogRepository через pgx.
type searchLogRepo struct {
	db DBTX
}

// NewSearchLogRepository создаёт репозиторий журнала поиска.
func NewSearchLogRepository(db DBTX) SearchLogRepository {
	return &searchLogRepo{db: db}
}

// Insert - INSERT ... ON CONFLICT (event_id) DO NOTHING.
func (r *searchLogRepo) Insert(ctx context.Context, log *model.SearchLog) (bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO search_logs (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING`, searchLogColumns)

	tag, err := r.db.Exec(ctx, query,
		log.ID, log.EventID, string(log.Operation), log.Timestamp, log.Query,
		log.ResultsCount, log.Duration, log.Success, log.Error, log.IngestedAt,
	)
	if err != nil {
		return false, fmt.Errorf("ошибка записи лога поиска %s: %w", log.EventID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// List выполняет выборку с фильтрами по времени и операции.
func (r *searchLogRepo) List(ctx context.Context, filter LogFilter) ([]model.SearchLog, int, error) {
	where, args := buildLogWhere(filter, 1)
	argNum := len(args) + 1

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM search_logs %s ORDER BY "timestamp" DESC, id DESC LIMIT $%d OFFSET $%d`,
		searchLogColumns, where, argNum, argNum+1,
	)
	dataArgs := append(append([]any{}, args...), filter.Limit, Offset(filter.Page, filter.Limit))

	rows, err := r.db.Query(ctx, dataQuery, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка выборки логов поиска: %w", err)
	}
	logs, err := collectSearchLogs(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM search_logs %s`, where)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта логов поиска: %w", err)
	}

	return logs, total, nil
}

// buildLogWhere строит WHERE-условие для выборки журнала.
func buildLogWhere(filter LogFilter, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	if filter.Start != nil {
		conditions = append(conditions, fmt.Sprintf(`"timestamp" >= $%d`, argNum))
		args = append(args, *filter.Start)
		argNum++
	}
	if filter.End != nil {
		conditions = append(conditions, fmt.Sprintf(`"timestamp" <= $%d`, argNum))
		args = append(args, *filter.End)
		argNum++
	}
	if filter.Operation != nil {
		conditions = append(conditions, fmt.Sprintf("operation = $%d", argNum))
		args = append(args, string(*filter.Operation))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// collectSearchLogs сканирует строки searchLogColumns и закрывает rows.
func collectSearchLogs(rows pgx.Rows) ([]model.SearchLog, error) {
	defer rows.Close()

	logs := make([]model.SearchLog, 0)
	for rows.Next() {
		var (
			l  model.SearchLog
			op string
		)
		if err := rows.Scan(
			&l.ID, &l.EventID, &op, &l.Timestamp, &l.Query,
			&l.ResultsCount, &l.Duration, &l.Success, &l.Error, &l.IngestedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования лога поиска: %w", err)
		}
		l.Operation = model.Operation(op)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return logs, nil
}
