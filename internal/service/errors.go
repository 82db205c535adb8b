// Пакет service - бизнес-логика booksearch: оркестрация поиска (catalog-service)
// и приём журнала поиска (searchlog-service).
package service

import "errors"

var (
	// ErrValidation - ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound - ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrUpstreamFetch - внешний каталог недоступен или вернул ошибку.
	ErrUpstreamFetch = errors.New("не удалось получить данные из внешнего каталога")
	// ErrPersistence - ошибка чтения или записи хранилища.
	ErrPersistence = errors.New("ошибка хранилища")
)
