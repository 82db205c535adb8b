package service

import (
	"encoding/json"
	"strings"

	"github.com/bigkaa/booksearch/internal/repository"
)

// Ключи кэша запросов.
const (
	externalKeyPrefix = "search:external:"
	localKeyPrefix    = "search:local:"
	allBooksKey       = "books:all"
	bookKeyPrefix     = "book:"
)

// normalizeQuery приводит запрос к нижнему регистру и схлопывает пробелы.
func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func externalSearchKey(query string) string {
	return externalKeyPrefix + normalizeQuery(query)
}

// localSearchKey - каноническое JSON-представление нормализованного фильтра.
// Порядок полей фиксирован структурой BookFilter.
func localSearchKey(f repository.BookFilter) string {
	// BookFilter состоит только из строк и чисел, ошибка сериализации невозможна
	raw, _ := json.Marshal(f)
	return localKeyPrefix + string(raw)
}

func bookKey(id string) string {
	return bookKeyPrefix + id
}
