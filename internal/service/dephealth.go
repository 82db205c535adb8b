// dephealth.go - интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// catalog-service мониторит PostgreSQL (critical) и Open Library (HTTP, non-critical):
// недоступность внешнего каталога не мешает локальному поиску.
// searchlog-service мониторит только PostgreSQL.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками
// (app_dependency_health, app_dependency_latency_seconds, app_dependency_status).
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
)

// HTTPDependency - HTTP-зависимость для мониторинга.
type HTTPDependency struct {
	// Name - имя зависимости в метриках (например, "openlibrary")
	Name string
	// URL - базовый URL сервиса
	URL string
	// HealthPath - путь проверки (по умолчанию "/")
	HealthPath string
	// Critical - влияет ли недоступность на готовность сервиса
	Critical bool
}

// DephealthService - сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
//
// Параметры:
//   - serviceID - имя вершины графа текущего приложения (catalog-service, searchlog-service)
//   - group - имя группы в метриках
//   - db - *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool()
//   - pgConnURL - URL PostgreSQL (для лейблов, не для подключения)
//   - httpDeps - дополнительные HTTP-зависимости
//   - extraOpts - дополнительные опции (например, dephealth.WithRegisterer в тестах)
func NewDephealthService(
	serviceID string,
	group string,
	db *sql.DB,
	pgConnURL string,
	httpDeps []HTTPDependency,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	pgDepOpts := []dephealth.DependencyOption{
		dephealth.FromURL(pgConnURL),
		dephealth.CheckInterval(checkInterval),
		dephealth.Critical(true),
	}

	opts := make([]dephealth.Option, 0, 2+len(httpDeps)+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		// PostgreSQL - connection pool mode через существующий pgxpool
		dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(db)), pgDepOpts...),
	)

	for _, dep := range httpDeps {
		healthPath := dep.HealthPath
		if healthPath == "" {
			healthPath = "/"
		}
		depOpts := []dephealth.DependencyOption{
			dephealth.FromURL(dep.URL),
			dephealth.WithHTTPHealthPath(healthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(dep.Critical),
		}
		if parsed, err := url.Parse(dep.URL); err == nil && parsed.Scheme == "https" {
			depOpts = append(depOpts, dephealth.WithHTTPTLSSkipVerify(false))
		}
		opts = append(opts, dephealth.HTTP(dep.Name, depOpts...))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ - имя зависимости, значение - true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
