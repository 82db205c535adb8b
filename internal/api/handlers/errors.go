package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/booksearch/internal/api/errors"
	"github.com/bigkaa/booksearch/internal/service"
)

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Детали ошибок внешнего каталога и хранилища клиенту не раскрываются.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrUpstreamFetch):
		logger.Warn("Ошибка внешнего каталога",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.UpstreamFetchFailed(w)
	case errors.Is(err, service.ErrPersistence):
		logger.Error("Ошибка сохранения книг",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.PersistenceFailed(w)
	default:
		logger.Error("Внутренняя ошибка",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// queryInt читает целочисленный параметр запроса; отсутствующий параметр даёт def.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: параметр %s должен быть целым числом", service.ErrValidation, name)
	}
	return v, nil
}

// pageParams читает page и limit с подстановкой значений по умолчанию.
func pageParams(r *http.Request) (page, limit int, err error) {
	if page, err = queryInt(r, "page", service.DefaultPage); err != nil {
		return 0, 0, err
	}
	if limit, err = queryInt(r, "limit", service.DefaultLimit); err != nil {
		return 0, 0, err
	}
	return page, limit, nil
}
