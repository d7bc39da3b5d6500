// Пакет config — загрузка и валидация конфигурации DocVault
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации DocVault.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration
	// Таймаут graceful shutdown (по умолчанию 5s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL (зеркальный реестр) ---

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// --- Ledger ---

	// Базовый URL ledger-сервиса (обязательный)
	LedgerURL string
	// Таймаут запросов к ledger (по умолчанию 15s)
	LedgerTimeout time.Duration
	// Количество одобрений для верификации документа (по умолчанию 2)
	RequiredApprovals int

	// --- Blob-хранилище ---

	// Базовый URL blob-хранилища (обязательный)
	BlobURL string
	// Таймаут запросов к blob-хранилищу (по умолчанию 60s)
	BlobTimeout time.Duration

	// --- Precheck ---

	// Базовый URL сервиса предварительной проверки (обязательный)
	PrecheckURL string
	// Таймаут запросов к precheck (по умолчанию 20s)
	PrecheckTimeout time.Duration
	// Порог уверенности, ниже которого непройденная проверка отклоняет загрузку
	PrecheckConfidenceFloor float64

	// --- JWT ---

	// URL JWKS endpoint Keycloak (обязательный)
	JWTJWKSURL string
	// Ожидаемый issuer JWT (пустая строка — не проверяется)
	JWTIssuer string
	// Допустимое отклонение времени при проверке JWT (по умолчанию 30s)
	JWTLeeway time.Duration
	// Таймаут HTTP-клиента JWKS (по умолчанию 10s)
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей (по умолчанию 5m)
	JWKSRefreshInterval time.Duration

	// --- TLS ---

	// Путь к CA-сертификату для исходящих соединений (пустая строка — стандартный пул)
	CACertPath string

	// --- Загрузка ---

	// Максимальный размер файла в байтах (по умолчанию 25 MiB)
	MaxFileSize int64
	// Соль для хеширования IP загрузивших (обязательная)
	IPHashSalt string

	// --- Кэш публичного реестра ---

	// Максимальное количество записей в LRU-кэше (по умолчанию 1000)
	CacheMaxSize int
	// TTL записи кэша (по умолчанию 1m)
	CacheTTL time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DV_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("DV_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("DV_PORT: %w", err)
	}

	// DV_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("DV_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("DV_LOG_LEVEL: %w", err)
	}

	// DV_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DV_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DV_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("DV_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("DV_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("DV_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("DV_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost, err = getEnvRequired("DV_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("DV_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DV_DB_PORT: %w", err)
	}
	cfg.DBUser, err = getEnvRequired("DV_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("DV_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBName = getEnvDefault("DV_DB_NAME", "docvault")
	cfg.DBSSLMode = getEnvDefault("DV_DB_SSLMODE", "disable")

	// --- Ledger ---

	cfg.LedgerURL, err = getEnvRequired("DV_LEDGER_URL")
	if err != nil {
		return nil, err
	}
	cfg.LedgerTimeout, err = getEnvDuration("DV_LEDGER_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_LEDGER_TIMEOUT: %w", err)
	}
	cfg.RequiredApprovals, err = getEnvInt("DV_REQUIRED_APPROVALS", 2)
	if err != nil {
		return nil, fmt.Errorf("DV_REQUIRED_APPROVALS: %w", err)
	}
	if cfg.RequiredApprovals < 1 {
		return nil, fmt.Errorf("DV_REQUIRED_APPROVALS: значение должно быть >= 1")
	}

	// --- Blob-хранилище ---

	cfg.BlobURL, err = getEnvRequired("DV_BLOB_URL")
	if err != nil {
		return nil, err
	}
	cfg.BlobTimeout, err = getEnvDuration("DV_BLOB_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_BLOB_TIMEOUT: %w", err)
	}

	// --- Precheck ---

	cfg.PrecheckURL, err = getEnvRequired("DV_PRECHECK_URL")
	if err != nil {
		return nil, err
	}
	cfg.PrecheckTimeout, err = getEnvDuration("DV_PRECHECK_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_PRECHECK_TIMEOUT: %w", err)
	}
	cfg.PrecheckConfidenceFloor, err = getEnvFloat("DV_PRECHECK_CONFIDENCE_FLOOR", 0.3)
	if err != nil {
		return nil, fmt.Errorf("DV_PRECHECK_CONFIDENCE_FLOOR: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL, err = getEnvRequired("DV_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWTIssuer = getEnvDefault("DV_JWT_ISSUER", "")
	cfg.JWTLeeway, err = getEnvDuration("DV_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_JWT_LEEWAY: %w", err)
	}
	cfg.JWKSClientTimeout, err = getEnvDuration("DV_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	cfg.JWKSRefreshInterval, err = getEnvDuration("DV_JWKS_REFRESH_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DV_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// --- TLS ---

	cfg.CACertPath = getEnvDefault("DV_CA_CERT_PATH", "")

	// --- Загрузка ---

	maxFileSizeMB, err := getEnvInt("DV_MAX_FILE_SIZE_MB", 25)
	if err != nil {
		return nil, fmt.Errorf("DV_MAX_FILE_SIZE_MB: %w", err)
	}
	cfg.MaxFileSize = int64(maxFileSizeMB) * 1024 * 1024

	cfg.IPHashSalt, err = getEnvRequired("DV_IP_HASH_SALT")
	if err != nil {
		return nil, err
	}

	// --- Кэш ---

	cfg.CacheMaxSize, err = getEnvInt("DV_CACHE_MAX_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("DV_CACHE_MAX_SIZE: %w", err)
	}
	cfg.CacheTTL, err = getEnvDuration("DV_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DV_CACHE_TTL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
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

// getEnvFloat возвращает вещественное значение переменной окружения или значение по умолчанию.
func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное вещественное число: %q", val)
	}
	return f, nil
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
