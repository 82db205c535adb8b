package database_test

import (
	"context"
	"testing"

	"github.com/bigkaa/booksearch/internal/database"
	"github.com/bigkaa/booksearch/internal/testinfra"
)

// TestMigrate_BothSetsShareDatabase - оба набора миграций применяются к одной БД
// и повторное применение не возвращает ошибку.
func TestMigrate_BothSetsShareDatabase(t *testing.T) {
	cfg := testinfra.StartPostgres(t)
	logger := testinfra.Logger()

	for _, set := range []database.MigrationSet{database.MigrationsCatalog, database.MigrationsSearchLog} {
		if err := database.Migrate(cfg, set, logger); err != nil {
			t.Fatalf("Migrate(%s) ошибка: %v", set, err)
		}
		if err := database.Migrate(cfg, set, logger); err != nil {
			t.Fatalf("повторный Migrate(%s) ошибка: %v", set, err)
		}
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect() ошибка: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"books", "search_logs"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists)
		if err != nil {
			t.Fatalf("проверка таблицы %s: %v", table, err)
		}
		if !exists {
			t.Errorf("таблица %s не создана", table)
		}
	}

	status, msg := database.NewReadinessChecker(pool).CheckReady()
	if status != "ok" {
		t.Errorf("CheckReady() = %q (%s), ожидается ok", status, msg)
	}
}
