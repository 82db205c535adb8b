// Точка входа searchlog-service - журнал поисковых запросов.
// Потребляет события поиска из брокера, сохраняет их в PostgreSQL
// и отдаёт журнал через GET /logs (опционально под JWT).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/booksearch/internal/api/handlers"
	"github.com/bigkaa/booksearch/internal/api/middleware"
	"github.com/bigkaa/booksearch/internal/config"
	"github.com/bigkaa/booksearch/internal/database"
	"github.com/bigkaa/booksearch/internal/events"
	"github.com/bigkaa/booksearch/internal/repository"
	"github.com/bigkaa/booksearch/internal/server"
	"github.com/bigkaa/booksearch/internal/service"
)

const serviceName = "searchlog-service"

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.LoadSearchLog()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(&cfg.Common)
	logger.Info("searchlog-service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(&cfg.Common, database.MigrationsSearchLog, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, &cfg.Common, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	checks := []handlers.Check{{Name: "postgresql", Checker: database.NewReadinessChecker(pool)}}

	// 5. Сервисный слой
	ingestSvc := service.NewIngestService(repository.NewSearchLogRepository(pool), logger)

	// 6. Потребитель событий поиска
	var consumer *events.Consumer
	if cfg.AMQPURL != "" {
		consumer = events.NewConsumer(events.ConsumerConfig{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.EventsExchange,
			Queue:      cfg.EventsQueue,
			BindingKey: cfg.EventsBindingKey,
			Prefetch:   cfg.ConsumerPrefetch,
		}, ingestSvc.HandleEvent, logger)
		checks = append(checks, handlers.Check{Name: "amqp", Checker: consumer})
	} else {
		logger.Warn("SL_AMQP_URL не задан, приём событий отключён")
	}

	// 7. JWT middleware для /logs (если задан SL_JWT_JWKS_URL)
	var logsMiddlewares []func(http.Handler) http.Handler
	if cfg.JWTJWKSURL != "" {
		jwtAuth, err := middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWTIssuer,
			cfg.RoleAdminGroups,
			cfg.RoleReadonlyGroups,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if err != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logsMiddlewares = append(logsMiddlewares,
			jwtAuth.Middleware(),
			middleware.RequireRoleOrScope(
				[]string{middleware.RoleAdmin, middleware.RoleReadonly},
				[]string{middleware.ScopeLogsRead},
			),
		)
		checks = append(checks, handlers.Check{
			Name:    "jwks",
			Checker: middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWKSClientTimeout),
		})
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		logger.Warn("SL_JWT_JWKS_URL не задан, /logs доступен без аутентификации")
	}

	// 8. Запуск фоновых задач
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	if consumer != nil {
		consumer.Start(bgCtx)
	}

	// 8.1 topologymetrics - PostgreSQL
	dephealthSvc, dephealthErr := service.NewDephealthService(
		serviceName,
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		nil,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 9. HTTP-сервер
	healthHandler := handlers.NewHealthHandler(serviceName, checks...)
	logsHandler := handlers.NewLogsHandler(ingestSvc, logger)

	srv := server.New(&cfg.Common, logger,
		func(r chi.Router) {
			healthHandler.Routes(r)
			logsHandler.Routes(r, logsMiddlewares...)
		},
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
	)

	// 10. Запуск сервера (блокирующий вызов с graceful shutdown)
	runErr := srv.Run()

	// 11. Остановка фоновых задач
	if consumer != nil {
		consumer.Stop()
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("searchlog-service остановлен")
}
