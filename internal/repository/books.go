package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/booksearch/internal/domain/model"
)

// bookColumns - список столбцов таблицы books для SELECT/RETURNING.
const bookColumns = `id, title, authors, first_publish_year, isbns, publishers,
	open_library_id, search_keywords, created_at, updated_at`

// searchVectorExpr - взвешенный tsvector записи. Параметры $1..$7 - как в upsert.
// Конфигурация 'simple' - без стемминга, чтобы не зависеть от языка названий.
const searchVectorExpr = `setweight(to_tsvector('simple', $1), 'A') ||
		setweight(to_tsvector('simple', array_to_string($2::text[], ' ')), 'B') ||
		setweight(to_tsvector('simple', array_to_string($5::text[], ' ')), 'C') ||
		setweight(to_tsvector('simple', array_to_string($7::text[], ' ')), 'D')`

// tsQueryExpr превращает свободный текст в tsquery с OR-семантикой:
// документ подходит, если содержит хотя бы один из терминов.
func tsQueryExpr(argNum int) string {
	return fmt.Sprintf(`replace(plainto_tsquery('simple', $%d)::text, ' & ', ' | ')::tsquery`, argNum)
}

// rankWeights - веса ts_rank в порядке {D, C, B, A}:
// title 10 : authors 5 : publishers 3 : keywords 1.
const rankWeights = `'{0.1, 0.3, 0.5, 1.0}'::float4[]`

// Допустимые значения сортировки.
const (
	SortRelevance = "relevance"
	SortTitle     = "title"
	SortYear      = "year"
	SortAuthor    = "author"
)

// BookFilter - параметры локального поиска книг.
// Поля-указатели: nil = фильтр не применяется.
// Page и Limit должны быть проверены вызывающим кодом.
type BookFilter struct {
	// Query - полнотекстовый запрос (термины объединяются по ИЛИ)
	Query *string `json:"q,omitempty"`
	// Author - подстрока имени любого из авторов (без учёта регистра)
	Author *string `json:"author,omitempty"`
	// Year - точный год первой публикации
	Year *int `json:"year,omitempty"`
	// ISBN - точное совпадение с одним из ISBN
	ISBN *string `json:"isbn,omitempty"`
	// SortBy - relevance, title, year, author (пусто - по умолчанию)
	SortBy string `json:"sortBy,omitempty"`
	// Order - asc, desc
	Order string `json:"order,omitempty"`
	// Page - номер страницы (с 1)
	Page int `json:"page"`
	// Limit - размер страницы
	Limit int `json:"limit"`
}

// BookRepository - интерфейс доступа к каталогу книг.
type BookRepository interface {
	// Upsert вставляет запись или полностью перезаписывает существующую
	// с тем же OpenLibraryID. Атомарно на уровне одного ключа.
	Upsert(ctx context.Context, rec *model.BookRecord) (*model.Book, error)
	// Search выполняет поиск с фильтрами, сортировкой и пагинацией.
	// Возвращает: страницу книг, общее количество совпадений, ошибка.
	Search(ctx context.Context, filter BookFilter) ([]model.Book, int, error)
	// GetByID возвращает книгу по UUID или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.Book, error)
	// GetAll возвращает все книги, новые первыми.
	GetAll(ctx context.Context) ([]model.Book, error)
}

// bookRepo - реализация BookRepository через pgx.
type bookRepo struct {
	db DBTX
}

// NewBookRepository создаёт репозиторий книг.
func NewBookRepository(db DBTX) BookRepository {
	return &bookRepo{db: db}
}

// Upsert - INSERT ... ON CONFLICT (open_library_id) DO UPDATE.
// created_at сохраняется от первой вставки, updated_at обновляется.
func (r *bookRepo) Upsert(ctx context.Context, rec *model.BookRecord) (*model.Book, error) {
	query := fmt.Sprintf(`
		INSERT INTO books (title, authors, first_publish_year, isbns, publishers,
			open_library_id, search_keywords, search_vector)
		VALUES ($1, $2, $3, $4, $5, $6, $7, %s)
		ON CONFLICT (open_library_id) DO UPDATE SET
			title = EXCLUDED.title,
			authors = EXCLUDED.authors,
			first_publish_year = EXCLUDED.first_publish_year,
			isbns = EXCLUDED.isbns,
			publishers = EXCLUDED.publishers,
			search_keywords = EXCLUDED.search_keywords,
			search_vector = EXCLUDED.search_vector,
			updated_at = now()
		RETURNING %s`, searchVectorExpr, bookColumns)

	row := r.db.QueryRow(ctx, query,
		rec.Title, nonNil(rec.Authors), rec.FirstPublishYear, nonNil(rec.ISBNs),
		nonNil(rec.Publishers), rec.OpenLibraryID, nonNil(rec.SearchKeywords),
	)

	b, err := scanBook(row)
	if err != nil {
		return nil, fmt.Errorf("ошибка upsert книги %s: %w", rec.OpenLibraryID, err)
	}
	return b, nil
}

// Search выполняет поиск книг с динамическими фильтрами.
func (r *bookRepo) Search(ctx context.Context, filter BookFilter) ([]model.Book, int, error) {
	where, args := buildBookSearchWhere(filter, 1)
	argNum := len(args) + 1

	// Запрос, если задан, всегда занимает первый параметр (см. buildBookSearchWhere)
	orderBy := buildBookOrderBy(filter, 1)

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM books %s %s LIMIT $%d OFFSET $%d`,
		bookColumns, where, orderBy, argNum, argNum+1,
	)
	dataArgs := append(append([]any{}, args...), filter.Limit, Offset(filter.Page, filter.Limit))

	rows, err := r.db.Query(ctx, dataQuery, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка поиска книг: %w", err)
	}
	books, err := collectBooks(rows)
	if err != nil {
		return nil, 0, err
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM books %s`, where)

	var total int
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта книг: %w", err)
	}

	return books, total, nil
}

// GetByID возвращает книгу по UUID. Невалидный UUID трактуется как отсутствие записи.
func (r *bookRepo) GetByID(ctx context.Context, id string) (*model.Book, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM books WHERE id = $1`, bookColumns)
	b, err := scanBook(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения книги: %w", err)
	}
	return b, nil
}

// GetAll возвращает все книги в порядке убывания created_at.
func (r *bookRepo) GetAll(ctx context.Context) ([]model.Book, error) {
	query := fmt.Sprintf(`SELECT %s FROM books ORDER BY created_at DESC, id DESC`, bookColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка книг: %w", err)
	}
	return collectBooks(rows)
}

// buildBookSearchWhere строит WHERE-условие и аргументы.
// startArg - номер первого $-параметра. Query, если задан, получает startArg.
func buildBookSearchWhere(filter BookFilter, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	if filter.Query != nil && *filter.Query != "" {
		conditions = append(conditions, fmt.Sprintf("search_vector @@ %s", tsQueryExpr(argNum)))
		args = append(args, *filter.Query)
		argNum++
	}

	if filter.Author != nil && *filter.Author != "" {
		conditions = append(conditions,
			fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(authors) AS a WHERE a ILIKE $%d)", argNum))
		args = append(args, containsPattern(*filter.Author))
		argNum++
	}

	if filter.Year != nil {
		conditions = append(conditions, fmt.Sprintf("first_publish_year = $%d", argNum))
		args = append(args, *filter.Year)
		argNum++
	}

	if filter.ISBN != nil && *filter.ISBN != "" {
		conditions = append(conditions, fmt.Sprintf("$%d = ANY(isbns)", argNum))
		args = append(args, *filter.ISBN)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// buildBookOrderBy строит ORDER BY из whitelist полей.
// Последний ключ - id, чтобы порядок был детерминирован при равенстве значений.
func buildBookOrderBy(filter BookFilter, queryArg int) string {
	dir := "DESC"
	if strings.EqualFold(filter.Order, "asc") {
		dir = "ASC"
	}

	hasQuery := filter.Query != nil && *filter.Query != ""

	switch filter.SortBy {
	case SortTitle:
		return fmt.Sprintf("ORDER BY title %s, id %s", dir, dir)
	case SortYear:
		return fmt.Sprintf("ORDER BY first_publish_year %s NULLS LAST, id %s", dir, dir)
	case SortAuthor:
		return fmt.Sprintf("ORDER BY authors[1] %s NULLS LAST, id %s", dir, dir)
	}

	if hasQuery {
		return fmt.Sprintf("ORDER BY ts_rank(%s, search_vector, %s) DESC, id ASC",
			rankWeights, tsQueryExpr(queryArg))
	}
	return "ORDER BY created_at DESC, id DESC"
}

// scanBook сканирует одну строку bookColumns.
func scanBook(row pgx.Row) (*model.Book, error) {
	b := &model.Book{}
	if err := row.Scan(
		&b.ID, &b.Title, &b.Authors, &b.FirstPublishYear, &b.ISBNs, &b.Publishers,
		&b.OpenLibraryID, &b.SearchKeywords, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return b, nil
}

// collectBooks сканирует все строки результата и закрывает rows.
func collectBooks(rows pgx.Rows) ([]model.Book, error) {
	defer rows.Close()

	books := make([]model.Book, 0)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования книги: %w", err)
		}
		books = append(books, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return books, nil
}
