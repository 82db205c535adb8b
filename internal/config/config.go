// Пакет config - загрузка и валидация конфигурации сервисов booksearch
// из переменных окружения (с необязательным .env файлом).
//
// Оба сервиса используют общий набор параметров (Common): сервер, логирование,
// PostgreSQL, брокер событий, topologymetrics. Специфичные параметры
// добавляются в Catalog (catalog-service, префикс CS_) и SearchLog
// (searchlog-service, префикс SL_).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Префиксы переменных окружения сервисов.
const (
	CatalogPrefix   = "CS_"
	SearchLogPrefix = "SL_"
)

// Common содержит параметры, общие для обоих сервисов.
type Common struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown (по умолчанию 10s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Брокер событий ---

	// AMQPURL - адрес RabbitMQ. Пустое значение отключает брокер.
	AMQPURL string
	// EventsExchange - topic exchange для событий поиска
	EventsExchange string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
}

// Catalog - конфигурация catalog-service.
type Catalog struct {
	Common

	// RedisURL - адрес Redis (кэш + RedisTimeSeries).
	// Пустое значение - in-memory кэш и in-memory хранилище рядов.
	RedisURL string
	// CacheMaxEntries - размер in-memory LRU (только без Redis)
	CacheMaxEntries int

	// TTL записей кэша по видам запросов.
	CacheTTLExternal time.Duration
	CacheTTLLocal    time.Duration
	CacheTTLAllBooks time.Duration
	CacheTTLBook     time.Duration

	// --- Open Library ---

	OpenLibraryURL       string
	OpenLibraryTimeout   time.Duration
	OpenLibraryLimit     int
	OpenLibraryRPS       int
	OpenLibraryUserAgent string

	// --- Побочные каналы ---

	// EventsRoutingKey - routing key события о выполненном поиске
	EventsRoutingKey string
	// EventsBufferSize - ёмкость очереди публикации событий
	EventsBufferSize int
	// MetricsBufferSize - ёмкость очереди записи метрик
	MetricsBufferSize int
	// MetricsRetention - срок хранения временных рядов
	MetricsRetention time.Duration
	// MetricsBucket - ширина корзины агрегации
	MetricsBucket time.Duration
}

// SearchLog - конфигурация searchlog-service.
type SearchLog struct {
	Common

	// EventsQueue - durable очередь логов поиска
	EventsQueue string
	// EventsBindingKey - шаблон привязки очереди к exchange
	EventsBindingKey string
	// ConsumerPrefetch - prefetch (QoS) потребителя
	ConsumerPrefetch int

	// --- JWT (опционально) ---

	// JWTJWKSURL - JWKS endpoint. Пустое значение отключает аутентификацию /logs.
	JWTJWKSURL          string
	JWTIssuer           string
	JWTLeeway           time.Duration
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration
	RoleAdminGroups     []string
	RoleReadonlyGroups  []string
}

// LoadCatalog загружает конфигурацию catalog-service.
func LoadCatalog() (*Catalog, error) {
	if err := loadDotEnv(CatalogPrefix); err != nil {
		return nil, err
	}

	common, err := loadCommon(CatalogPrefix, 3000, "booksearch-catalog")
	if err != nil {
		return nil, err
	}
	cfg := &Catalog{Common: *common}
	p := CatalogPrefix

	// CS_REDIS_URL - адрес Redis (по умолчанию пусто, in-memory)
	cfg.RedisURL = getEnvDefault(p+"REDIS_URL", "")

	// CS_CACHE_MAX_ENTRIES - размер in-memory кэша (по умолчанию 10000)
	cfg.CacheMaxEntries, err = getEnvInt(p+"CACHE_MAX_ENTRIES", 10000)
	if err != nil {
		return nil, fmt.Errorf("%sCACHE_MAX_ENTRIES: %w", p, err)
	}
	if cfg.CacheMaxEntries < 1 {
		return nil, fmt.Errorf("%sCACHE_MAX_ENTRIES: значение должно быть > 0", p)
	}

	ttls := []struct {
		key    string
		dst    *time.Duration
		defVal time.Duration
	}{
		{"CACHE_TTL_EXTERNAL", &cfg.CacheTTLExternal, time.Hour},
		{"CACHE_TTL_LOCAL", &cfg.CacheTTLLocal, 5 * time.Minute},
		{"CACHE_TTL_ALL_BOOKS", &cfg.CacheTTLAllBooks, time.Hour},
		{"CACHE_TTL_BOOK", &cfg.CacheTTLBook, time.Hour},
	}
	for _, ttl := range ttls {
		*ttl.dst, err = getEnvDurationFallback(p+ttl.key, ttl.defVal)
		if err != nil {
			return nil, fmt.Errorf("%s%s: %w", p, ttl.key, err)
		}
	}

	// --- Open Library ---

	cfg.OpenLibraryURL = strings.TrimRight(getEnvDefault(p+"OPENLIBRARY_URL", "https://openlibrary.org"), "/")
	if _, err := url.ParseRequestURI(cfg.OpenLibraryURL); err != nil {
		return nil, fmt.Errorf("%sOPENLIBRARY_URL: некорректный URL %q", p, cfg.OpenLibraryURL)
	}

	cfg.OpenLibraryTimeout, err = getEnvDurationFallback(p+"OPENLIBRARY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%sOPENLIBRARY_TIMEOUT: %w", p, err)
	}

	// CS_OPENLIBRARY_LIMIT - количество документов в ответе (по умолчанию 10)
	cfg.OpenLibraryLimit, err = getEnvInt(p+"OPENLIBRARY_LIMIT", 10)
	if err != nil {
		return nil, fmt.Errorf("%sOPENLIBRARY_LIMIT: %w", p, err)
	}
	if cfg.OpenLibraryLimit < 1 || cfg.OpenLibraryLimit > 100 {
		return nil, fmt.Errorf("%sOPENLIBRARY_LIMIT: значение %d вне допустимого диапазона 1-100", p, cfg.OpenLibraryLimit)
	}

	// CS_OPENLIBRARY_RPS - ограничение запросов в секунду (по умолчанию 5)
	cfg.OpenLibraryRPS, err = getEnvInt(p+"OPENLIBRARY_RPS", 5)
	if err != nil {
		return nil, fmt.Errorf("%sOPENLIBRARY_RPS: %w", p, err)
	}
	if cfg.OpenLibraryRPS < 1 {
		return nil, fmt.Errorf("%sOPENLIBRARY_RPS: значение должно быть > 0", p)
	}

	cfg.OpenLibraryUserAgent = getEnvDefault(p+"OPENLIBRARY_USER_AGENT", "booksearch/"+Version)

	// --- Побочные каналы ---

	cfg.EventsRoutingKey = getEnvDefault(p+"EVENTS_ROUTING_KEY", "book.search.executed")

	cfg.EventsBufferSize, err = getEnvInt(p+"EVENTS_BUFFER_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("%sEVENTS_BUFFER_SIZE: %w", p, err)
	}
	cfg.MetricsBufferSize, err = getEnvInt(p+"METRICS_BUFFER_SIZE", 256)
	if err != nil {
		return nil, fmt.Errorf("%sMETRICS_BUFFER_SIZE: %w", p, err)
	}
	if cfg.EventsBufferSize < 1 || cfg.MetricsBufferSize < 1 {
		return nil, fmt.Errorf("%sEVENTS_BUFFER_SIZE/%sMETRICS_BUFFER_SIZE: значение должно быть > 0", p, p)
	}

	// CS_METRICS_RETENTION - срок хранения рядов (по умолчанию 7 суток)
	cfg.MetricsRetention, err = getEnvDurationFallback(p+"METRICS_RETENTION", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("%sMETRICS_RETENTION: %w", p, err)
	}
	cfg.MetricsBucket, err = getEnvDurationFallback(p+"METRICS_BUCKET", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%sMETRICS_BUCKET: %w", p, err)
	}

	return cfg, nil
}

// LoadSearchLog загружает конфигурацию searchlog-service.
func LoadSearchLog() (*SearchLog, error) {
	if err := loadDotEnv(SearchLogPrefix); err != nil {
		return nil, err
	}

	common, err := loadCommon(SearchLogPrefix, 3001, "booksearch-searchlog")
	if err != nil {
		return nil, err
	}
	cfg := &SearchLog{Common: *common}
	p := SearchLogPrefix

	cfg.EventsQueue = getEnvDefault(p+"EVENTS_QUEUE", "search_logs_queue")
	cfg.EventsBindingKey = getEnvDefault(p+"EVENTS_BINDING_KEY", "book.search.*")

	cfg.ConsumerPrefetch, err = getEnvInt(p+"CONSUMER_PREFETCH", 1)
	if err != nil {
		return nil, fmt.Errorf("%sCONSUMER_PREFETCH: %w", p, err)
	}
	if cfg.ConsumerPrefetch < 1 {
		return nil, fmt.Errorf("%sCONSUMER_PREFETCH: значение должно быть > 0", p)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault(p+"JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault(p+"JWT_ISSUER", "")

	cfg.JWTLeeway, err = getEnvDuration(p+"JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%sJWT_LEEWAY: %w", p, err)
	}
	cfg.JWKSClientTimeout, err = getEnvDurationFallback(p+"JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%sJWKS_CLIENT_TIMEOUT: %w", p, err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDurationFallback(p+"JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("%sJWKS_REFRESH_INTERVAL: %w", p, err)
	}

	cfg.RoleAdminGroups = parseCSV(getEnvDefault(p+"ROLE_ADMIN_GROUPS", "booksearch-admins"))
	cfg.RoleReadonlyGroups = parseCSV(getEnvDefault(p+"ROLE_READONLY_GROUPS", "booksearch-viewers"))

	return cfg, nil
}

// loadCommon читает общие параметры с указанным префиксом.
func loadCommon(p string, defaultPort int, defaultGroup string) (*Common, error) {
	cfg := &Common{}
	var err error

	// <P>PORT - порт HTTP-сервера
	cfg.Port, err = getEnvInt(p+"PORT", defaultPort)
	if err != nil {
		return nil, fmt.Errorf("%sPORT: %w", p, err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%sPORT: значение %d вне допустимого диапазона 1-65535", p, cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault(p+"LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("%sLOG_LEVEL: %w", p, err)
	}

	cfg.LogFormat = getEnvDefault(p+"LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("%sLOG_FORMAT: недопустимый формат %q, допустимые: json, text", p, cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration(p+"HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%sHTTP_READ_TIMEOUT: %w", p, err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration(p+"HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%sHTTP_WRITE_TIMEOUT: %w", p, err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration(p+"HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%sHTTP_IDLE_TIMEOUT: %w", p, err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration(p+"SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%sSHUTDOWN_TIMEOUT: %w", p, err)
	}

	// --- PostgreSQL ---

	// <P>DB_HOST - обязательный
	cfg.DBHost, err = getEnvRequired(p + "DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt(p+"DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("%sDB_PORT: %w", p, err)
	}
	cfg.DBName, err = getEnvRequired(p + "DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBUser, err = getEnvRequired(p + "DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired(p + "DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault(p+"DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("%sDB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", p, cfg.DBSSLMode)
	}

	// --- Брокер ---

	cfg.AMQPURL = getEnvDefault(p+"AMQP_URL", "")
	cfg.EventsExchange = getEnvDefault(p+"EVENTS_EXCHANGE", "search.events")

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault(p+"DEPHEALTH_GROUP", defaultGroup)
	cfg.DephealthCheckInterval, err = getEnvDuration(p+"DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%sDEPHEALTH_CHECK_INTERVAL: %w", p, err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Common) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Common) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", url.User(c.DBUser).String(), c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL для golang-migrate (драйвер pgx5).
func (c *Common) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s@%s:%d/%s?sslmode=%s",
		url.UserPassword(c.DBUser, c.DBPassword).String(), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Common) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// loadDotEnv подгружает переменные из .env файла (путь - <P>ENV_FILE, по умолчанию .env).
// Уже заданные переменные окружения не перезаписываются. Отсутствие файла не ошибка.
func loadDotEnv(p string) error {
	path := getEnvDefault(p+"ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%sENV_FILE: ошибка чтения %s: %w", p, path, err)
	}
	return nil
}

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvDurationFallback - как getEnvDuration, но дополнительно требует значение > 0.
func getEnvDurationFallback(key string, fallbackVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, fallbackVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// parseCSV разбирает список через запятую, пропуская пустые элементы.
func parseCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
