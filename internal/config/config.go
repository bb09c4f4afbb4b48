// Пакет config — загрузка и валидация конфигурации файлового обменника
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации файлового обменника.
type Config struct {
	// Корневая директория данных
	DataDir string
	// Директория blob-файлов
	BlobDir string
	// Директория WAL
	WALDir string
	// Директория временных файлов (архивы)
	TempDir string

	// Драйвер хранилища метаданных (sqlite, postgres)
	MetaDriver string
	// Путь к файлу SQLite или DSN PostgreSQL
	MetaDSN string

	// Срок хранения файла по умолчанию
	FileTTL time.Duration
	// Максимальный срок хранения, который может запросить клиент
	MaxTTL time.Duration
	// Интервал фоновой очистки истёкших файлов
	SweepInterval time.Duration

	// Максимальный размер пакета удаления
	MaxDeleteBatch int
	// Максимальный размер пакета архивации
	MaxArchiveBatch int
	// Количество одновременно собираемых архивов
	MaxConcurrentArchives int
	// Количество расширений в статистике
	StatsTopN int

	// Срок хранения журнала операций
	OplogRetention time.Duration

	// Заполненность диска blob, при которой /health/ready сообщает degraded
	DiskWarnPercent int
	// Количество истёкших записей, при котором /health/ready сообщает degraded
	ExpiredWarnCount int

	// Размер LRU-кэша записей (0 — кэш отключён)
	CacheSize int
	// TTL записи в кэше
	CacheTTL time.Duration

	// Путь к metadata.json старого формата для одноразового импорта
	LegacyMetadataPath string

	// Порт служебного HTTP-сервера (health, metrics, maintenance)
	OpsPort int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// FS_DATA_DIR — корневая директория (по умолчанию ./data)
	cfg.DataDir = getEnvDefault("FS_DATA_DIR", "./data")

	// Поддиректории по умолчанию вычисляются от FS_DATA_DIR
	cfg.BlobDir = getEnvDefault("FS_BLOB_DIR", filepath.Join(cfg.DataDir, "files"))
	cfg.WALDir = getEnvDefault("FS_WAL_DIR", filepath.Join(cfg.DataDir, "wal"))
	cfg.TempDir = getEnvDefault("FS_TEMP_DIR", filepath.Join(cfg.DataDir, "tmp"))

	// FS_META_DRIVER — драйвер метаданных (по умолчанию sqlite)
	cfg.MetaDriver = getEnvDefault("FS_META_DRIVER", "sqlite")
	switch cfg.MetaDriver {
	case "sqlite":
		cfg.MetaDSN = getEnvDefault("FS_META_DSN", filepath.Join(cfg.DataDir, "fileshare.db"))
	case "postgres":
		cfg.MetaDSN, err = getEnvRequired("FS_META_DSN")
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("FS_META_DRIVER: недопустимое значение %q, допустимые: sqlite, postgres", cfg.MetaDriver)
	}

	// FS_FILE_TTL — срок хранения по умолчанию (24h)
	cfg.FileTTL, err = getEnvPositiveDuration("FS_FILE_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	// FS_MAX_TTL — верхняя граница TTL (720h)
	cfg.MaxTTL, err = getEnvPositiveDuration("FS_MAX_TTL", 720*time.Hour)
	if err != nil {
		return nil, err
	}
	if cfg.MaxTTL < cfg.FileTTL {
		return nil, fmt.Errorf("FS_MAX_TTL: значение %s должно быть >= FS_FILE_TTL (%s)", cfg.MaxTTL, cfg.FileTTL)
	}

	// FS_SWEEP_INTERVAL — интервал очистки (60m)
	cfg.SweepInterval, err = getEnvPositiveDuration("FS_SWEEP_INTERVAL", 60*time.Minute)
	if err != nil {
		return nil, err
	}

	if cfg.MaxDeleteBatch, err = getEnvPositiveInt("FS_MAX_DELETE_BATCH", 100); err != nil {
		return nil, err
	}
	if cfg.MaxArchiveBatch, err = getEnvPositiveInt("FS_MAX_ARCHIVE_BATCH", 50); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrentArchives, err = getEnvPositiveInt("FS_MAX_CONCURRENT_ARCHIVES", 2); err != nil {
		return nil, err
	}
	if cfg.StatsTopN, err = getEnvPositiveInt("FS_STATS_TOP_N", 10); err != nil {
		return nil, err
	}

	// FS_OPLOG_RETENTION — срок хранения журнала операций (720h, 0 — бессрочно)
	cfg.OplogRetention, err = getEnvDuration("FS_OPLOG_RETENTION", 720*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FS_OPLOG_RETENTION: %w", err)
	}

	// FS_DISK_WARN_PERCENT — порог заполненности диска (90)
	cfg.DiskWarnPercent, err = getEnvPositiveInt("FS_DISK_WARN_PERCENT", 90)
	if err != nil {
		return nil, err
	}
	if cfg.DiskWarnPercent > 100 {
		return nil, fmt.Errorf("FS_DISK_WARN_PERCENT: значение %d больше 100", cfg.DiskWarnPercent)
	}
	if cfg.ExpiredWarnCount, err = getEnvPositiveInt("FS_EXPIRED_WARN_COUNT", 100); err != nil {
		return nil, err
	}

	// FS_CACHE_SIZE — размер кэша записей (1000, 0 — отключён)
	cfg.CacheSize, err = getEnvInt("FS_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("FS_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 0 {
		return nil, fmt.Errorf("FS_CACHE_SIZE: значение не может быть отрицательным")
	}
	cfg.CacheTTL, err = getEnvPositiveDuration("FS_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	// FS_LEGACY_METADATA — metadata.json старого формата
	cfg.LegacyMetadataPath = getEnvDefault("FS_LEGACY_METADATA", filepath.Join(cfg.DataDir, "metadata.json"))

	// FS_OPS_PORT — порт служебного сервера (8090)
	cfg.OpsPort, err = getEnvInt("FS_OPS_PORT", 8090)
	if err != nil {
		return nil, fmt.Errorf("FS_OPS_PORT: %w", err)
	}
	if cfg.OpsPort < 1 || cfg.OpsPort > 65535 {
		return nil, fmt.Errorf("FS_OPS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.OpsPort)
	}

	// FS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FS_LOG_LEVEL: %w", err)
	}

	// FS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// FS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (10s)
	cfg.ShutdownTimeout, err = getEnvPositiveDuration("FS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	return cfg, nil
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

// getEnvPositiveInt — getEnvInt с проверкой n > 0.
func getEnvPositiveInt(key string, defaultVal int) (int, error) {
	n, err := getEnvInt(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным, получено %d", key, n)
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
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 24h)", val)
	}
	if d < 0 {
		return 0, fmt.Errorf("длительность не может быть отрицательной: %q", val)
	}
	return d, nil
}

// getEnvPositiveDuration — getEnvDuration с проверкой d > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d == 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным", key)
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
