// Пакет model - доменные модели booksearch.
// Book - маппинг таблицы books (catalog-service).
package model

import "time"

// Book - запись каталога, импортированная из внешнего каталога (Open Library).
// Уникальность обеспечивается по OpenLibraryID.
type Book struct {
	// ID - UUID записи (генерируется PostgreSQL при первом upsert)
	ID string `json:"id"`
	// Title - название книги
	Title string `json:"title"`
	// Authors - имена авторов (может быть пустым списком)
	Authors []string `json:"authors"`
	// FirstPublishYear - год первой публикации (nil, если неизвестен)
	FirstPublishYear *int `json:"firstPublishYear,omitempty"`
	// ISBNs - список ISBN
	ISBNs []string `json:"isbns"`
	// Publishers - список издателей
	Publishers []string `json:"publishers"`
	// OpenLibraryID - ключ записи во внешнем каталоге (например, /works/OL45883W)
	OpenLibraryID string `json:"openLibraryId"`
	// SearchKeywords - дополнительные ключевые слова для полнотекстового поиска
	SearchKeywords []string `json:"searchKeywords"`
	// CreatedAt - время первого импорта
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt - время последнего upsert
	UpdatedAt time.Time `json:"updatedAt"`
}

// BookRecord - запись для создания/обновления книги, полученная из внешнего каталога.
// Не содержит идентификатора и меток времени - их назначает хранилище.
type BookRecord struct {
	Title            string
	Authors          []string
	FirstPublishYear *int
	ISBNs            []string
	Publishers       []string
	OpenLibraryID    string
	SearchKeywords   []string
}

// SearchResult - страница результатов локального поиска.
type SearchResult struct {
	Items []Book `json:"items"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Pages int    `json:"pages"`
	Limit int    `json:"limit"`
}
