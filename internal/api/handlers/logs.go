package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/booksearch/internal/domain/model"
	"github.com/bigkaa/booksearch/internal/service"
)

// LogReader - чтение журнала поиска.
type LogReader interface {
	GetLogs(ctx context.Context, q service.LogQuery) (*model.LogPage, error)
}

// LogsHandler - обработчик GET /logs searchlog-service.
type LogsHandler struct {
	logs   LogReader
	logger *slog.Logger
}

// NewLogsHandler создаёт обработчик журнала поиска.
func NewLogsHandler(logs LogReader, logger *slog.Logger) *LogsHandler {
	return &LogsHandler{
		logs:   logs,
		logger: logger.With(slog.String("component", "logs_handler")),
	}
}

// Routes регистрирует /logs. middlewares применяются только к этому маршруту (JWT).
func (h *LogsHandler) Routes(r chi.Router, middlewares ...func(http.Handler) http.Handler) {
	r.With(middlewares...).Get("/logs", h.GetLogs)
}

// GetLogs - GET /logs?startDate&endDate&operation&page&limit.
func (h *LogsHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	q := r.URL.Query()
	result, err := h.logs.GetLogs(r.Context(), service.LogQuery{
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
		Operation: q.Get("operation"),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
