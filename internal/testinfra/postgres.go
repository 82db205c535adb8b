// Пакет testinfra - запуск PostgreSQL, Redis Stack и RabbitMQ в Docker через testcontainers
// для интеграционных тестов хранилищ, кэша, метрик и брокера.
// Тесты пропускаются, если переменная TEST_INTEGRATION не установлена.
package testinfra

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/booksearch/internal/config"
	"github.com/bigkaa/booksearch/internal/database"
)

// SkipUnlessIntegration пропускает тест без TEST_INTEGRATION.
func SkipUnlessIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}
}

// StartPostgres запускает контейнер PostgreSQL и возвращает конфигурацию подключения.
func StartPostgres(t *testing.T) *config.Common {
	t.Helper()
	SkipUnlessIntegration(t)

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("booksearch_test"),
		postgres.WithUsername("booksearch"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}
	portNum, err := strconv.Atoi(port.Port())
	if err != nil {
		t.Fatalf("Некорректный port контейнера: %v", err)
	}

	return &config.Common{
		DBHost:     host,
		DBPort:     portNum,
		DBName:     "booksearch_test",
		DBUser:     "booksearch",
		DBPassword: "test-password",
		DBSSLMode:  "disable",
	}
}

// Setup запускает PostgreSQL, применяет набор миграций и возвращает пул.
func Setup(t *testing.T, set database.MigrationSet) *pgxpool.Pool {
	t.Helper()

	cfg := StartPostgres(t)
	logger := Logger()

	if err := database.Migrate(cfg, set, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// Logger возвращает логгер для тестов (только ошибки).
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}
