package service

import "fmt"

// Параметры пагинации. DefaultPage и DefaultLimit подставляет транспортный
// слой, когда параметр не передан.
const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

// validatePage проверяет диапазон page >= 1, 1 <= limit <= MaxLimit.
func validatePage(page, limit int) error {
	if page < 1 {
		return fmt.Errorf("%w: page должен быть >= 1", ErrValidation)
	}
	if limit < 1 || limit > MaxLimit {
		return fmt.Errorf("%w: limit должен быть в диапазоне 1-%d", ErrValidation, MaxLimit)
	}
	return nil
}
