package model

import (
	"strings"
	"time"
)

// Operation - тип поисковой операции.
type Operation string

const (
	// OperationExternalSearch - поиск во внешнем каталоге с импортом результатов.
	OperationExternalSearch Operation = "EXTERNAL_SEARCH"
	// OperationLocalSearch - поиск по локальному каталогу.
	OperationLocalSearch Operation = "LOCAL_SEARCH"
)

// Operations - все допустимые операции.
var Operations = []Operation{OperationExternalSearch, OperationLocalSearch}

// Valid проверяет, что операция известна.
func (o Operation) Valid() bool {
	return o == OperationExternalSearch || o == OperationLocalSearch
}

// MetricName возвращает имя операции во временных рядах (external_search, local_search).
func (o Operation) MetricName() string {
	return strings.ToLower(string(o))
}

// ParseOperation принимает имя операции в любой из форм
// (EXTERNAL_SEARCH, external_search, external-search) без учёта регистра.
func ParseOperation(s string) (Operation, bool) {
	op := Operation(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	return op, op.Valid()
}

// SearchEvent - событие о выполненном поиске. Публикуется catalog-service,
// потребляется searchlog-service.
type SearchEvent struct {
	// EventID - UUID события, назначается производителем (ключ идемпотентности)
	EventID string `json:"eventId"`
	// Operation - тип операции
	Operation Operation `json:"operation"`
	// Timestamp - момент завершения обработки запроса
	Timestamp time.Time `json:"timestamp"`
	// Query - строка запроса (q для локального поиска), может быть пустой
	Query string `json:"query"`
	// ResultsCount - количество результатов
	ResultsCount int `json:"resultsCount"`
	// Duration - длительность обработки в миллисекундах
	Duration int64 `json:"duration"`
	// Success - успешность операции
	Success bool `json:"success"`
	// Error - текст ошибки (только при Success=false)
	Error string `json:"error,omitempty"`
}

// SearchLog - persisted-представление SearchEvent в searchlog-service.
type SearchLog struct {
	ID           string         `json:"id"`
	EventID      string         `json:"eventId"`
	Operation    Operation      `json:"operation"`
	Timestamp    time.Time      `json:"timestamp"`
	Query        string         `json:"query"`
	ResultsCount int            `json:"resultsCount"`
	Duration     int64          `json:"duration"`
	Success      bool           `json:"success"`
	Error        *string        `json:"error,omitempty"`
	// IngestedAt - время записи в хранилище (не путать с Timestamp производителя)
	IngestedAt time.Time `json:"ingestedAt"`
}

// LogPage - страница логов поиска.
type LogPage struct {
	Items []SearchLog `json:"items"`
	Total int         `json:"total"`
	Page  int         `json:"page"`
	Pages int         `json:"pages"`
	Limit int         `json:"limit"`
}
