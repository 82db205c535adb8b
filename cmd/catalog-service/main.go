// Точка входа catalog-service - поиск книг в локальном каталоге и импорт из Open Library.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL и Redis,
// запускает побочные каналы (события поиска, метрики длительности),
// topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/booksearch/internal/api/handlers"
	"github.com/bigkaa/booksearch/internal/api/middleware"
	"github.com/bigkaa/booksearch/internal/cache"
	"github.com/bigkaa/booksearch/internal/config"
	"github.com/bigkaa/booksearch/internal/database"
	"github.com/bigkaa/booksearch/internal/events"
	"github.com/bigkaa/booksearch/internal/metrics"
	"github.com/bigkaa/booksearch/internal/openlibrary"
	"github.com/bigkaa/booksearch/internal/repository"
	"github.com/bigkaa/booksearch/internal/server"
	"github.com/bigkaa/booksearch/internal/service"
)

const serviceName = "catalog-service"

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.LoadCatalog()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(&cfg.Common)
	logger.Info("catalog-service запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(&cfg.Common, database.MigrationsCatalog, logger); err != nil {
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

	// 4.1 Адаптер pgxpool -> *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	checks := []handlers.Check{{Name: "postgresql", Checker: database.NewReadinessChecker(pool)}}

	// 5. Кэш и хранилище рядов: Redis или in-memory
	var (
		cacheStore  cache.Store
		seriesStore metrics.SeriesStore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("Некорректный CS_REDIS_URL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		// RESP2: ответы TS.* в RESP3 go-redis отдаёт только через RawResult
		opts.Protocol = 2
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		cacheStore = cache.NewRedisStore(rdb, "booksearch:")
		seriesStore = metrics.NewRedisTimeSeriesStore(rdb)
		checks = append(checks, handlers.Check{Name: "redis", Checker: cache.NewRedisReadinessChecker(rdb)})
		logger.Info("Redis подключён", slog.String("addr", opts.Addr))
	} else {
		cacheStore = cache.NewMemoryStore(cfg.CacheMaxEntries, maxTTL(cfg))
		seriesStore = metrics.NewMemorySeriesStore()
		logger.Warn("CS_REDIS_URL не задан, используются in-memory кэш и хранилище метрик")
	}
	queryCache := cache.New(cacheStore, logger)

	// 6. Метрики длительности поиска
	recorder := metrics.NewRecorder(seriesStore, cfg.MetricsRetention, cfg.MetricsBucket, logger)
	if err := recorder.EnsureSeries(ctx); err != nil {
		// Ряды будут созданы при первой записи
		logger.Warn("Не удалось создать ряды метрик", slog.String("error", err.Error()))
	}
	durations := metrics.NewAsyncRecorder(recorder, cfg.MetricsBufferSize, logger)

	// 7. Публикация событий поиска
	var transport events.Transport = events.NoopTransport{}
	if cfg.AMQPURL != "" {
		transport = events.NewAMQPTransport(cfg.AMQPURL, cfg.EventsExchange, cfg.EventsRoutingKey, logger)
		logger.Info("Публикация событий включена",
			slog.String("exchange", cfg.EventsExchange),
			slog.String("routing_key", cfg.EventsRoutingKey),
		)
	} else {
		logger.Warn("CS_AMQP_URL не задан, события поиска не публикуются")
	}
	publisher := events.NewPublisher(transport, cfg.EventsBufferSize, logger)

	// 8. Клиент Open Library
	olClient := openlibrary.NewClient(openlibrary.Config{
		BaseURL:   cfg.OpenLibraryURL,
		Timeout:   cfg.OpenLibraryTimeout,
		Limit:     cfg.OpenLibraryLimit,
		RPS:       cfg.OpenLibraryRPS,
		UserAgent: cfg.OpenLibraryUserAgent,
	}, logger)

	// 9. Сервисный слой
	searchSvc := service.NewSearchService(
		repository.NewBookRepository(pool),
		olClient,
		queryCache,
		service.CacheTTLs{
			External: cfg.CacheTTLExternal,
			Local:    cfg.CacheTTLLocal,
			AllBooks: cfg.CacheTTLAllBooks,
			Book:     cfg.CacheTTLBook,
		},
		publisher,
		durations,
		recorder,
		logger,
	)

	// 10. Запуск фоновых задач
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	publisher.Start(bgCtx)
	durations.Start(bgCtx)

	// 10.1 topologymetrics - PostgreSQL (critical) + Open Library (non-critical)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		serviceName,
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		[]service.HTTPDependency{{Name: "openlibrary", URL: cfg.OpenLibraryURL}},
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

	// 11. HTTP-сервер
	healthHandler := handlers.NewHealthHandler(serviceName, checks...)
	booksHandler := handlers.NewBooksHandler(searchSvc, logger)

	srv := server.New(&cfg.Common, logger,
		func(r chi.Router) {
			healthHandler.Routes(r)
			booksHandler.Routes(r)
		},
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
	)

	// 12. Запуск сервера (блокирующий вызов с graceful shutdown)
	runErr := srv.Run()

	// 13. Остановка фоновых задач: дренаж очередей событий и метрик
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer stopCancel()
	durations.Stop(stopCtx)
	publisher.Stop(stopCtx)

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("catalog-service остановлен")
}

// maxTTL - верхняя граница TTL in-memory кэша.
func maxTTL(cfg *config.Catalog) time.Duration {
	longest := cfg.CacheTTLExternal
	for _, ttl := range []time.Duration{cfg.CacheTTLLocal, cfg.CacheTTLAllBooks, cfg.CacheTTLBook} {
		longest = max(longest, ttl)
	}
	return longest
}
