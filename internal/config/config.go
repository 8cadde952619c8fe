// Пакет config — загрузка и валидация конфигурации Attendance Server
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

// Config содержит все параметры конфигурации Attendance Server.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Максимальный размер пула соединений
	DBMaxConns int

	// --- Протокол устройств ---

	// Окно liveness: устройство online, пока с последнего контакта прошло меньше
	DeviceOnlineWindow time.Duration
	// Через сколько после создания pending-команда считается просроченной
	CommandExpiry time.Duration
	// Через сколько без обновлений in_progress-команда считается зависшей (0 — никогда)
	CommandInProgressTimeout time.Duration
	// Интервал фоновой очистки просроченных команд (0 — только ленивая проверка при poll)
	ExpirySweepInterval time.Duration

	// --- Кэш отпечатков ---

	FingerprintCacheSize int
	FingerprintCacheTTL  time.Duration

	// --- MQTT (уведомления устройствам, опционально) ---

	// URL брокера (tcp://host:1883). Пустое значение отключает уведомления.
	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("AT_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("AT_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("AT_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AT_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AT_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("AT_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AT_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("AT_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("AT_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("AT_HTTP_WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("AT_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("AT_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("AT_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("AT_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("AT_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("AT_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("AT_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("AT_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("AT_DB_PASSWORD"); err != nil {
		return nil, err
	}

	cfg.DBSSLMode = getEnvDefault("AT_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("AT_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBMaxConns, err = getEnvInt("AT_DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("AT_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 || cfg.DBMaxConns > 1000 {
		return nil, fmt.Errorf("AT_DB_MAX_CONNS: значение %d вне допустимого диапазона 1-1000", cfg.DBMaxConns)
	}

	// --- Протокол устройств ---

	cfg.DeviceOnlineWindow, err = getEnvDuration("AT_DEVICE_ONLINE_WINDOW", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AT_DEVICE_ONLINE_WINDOW: %w", err)
	}
	if cfg.DeviceOnlineWindow <= 0 {
		return nil, fmt.Errorf("AT_DEVICE_ONLINE_WINDOW: должно быть больше нуля")
	}

	cfg.CommandExpiry, err = getEnvDuration("AT_COMMAND_EXPIRY", 300*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AT_COMMAND_EXPIRY: %w", err)
	}
	if cfg.CommandExpiry <= 0 {
		return nil, fmt.Errorf("AT_COMMAND_EXPIRY: должно быть больше нуля")
	}

	cfg.CommandInProgressTimeout, err = getEnvDuration("AT_COMMAND_IN_PROGRESS_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AT_COMMAND_IN_PROGRESS_TIMEOUT: %w", err)
	}
	if cfg.CommandInProgressTimeout < 0 {
		return nil, fmt.Errorf("AT_COMMAND_IN_PROGRESS_TIMEOUT: отрицательное значение")
	}

	cfg.ExpirySweepInterval, err = getEnvDuration("AT_EXPIRY_SWEEP_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AT_EXPIRY_SWEEP_INTERVAL: %w", err)
	}
	if cfg.ExpirySweepInterval < 0 {
		return nil, fmt.Errorf("AT_EXPIRY_SWEEP_INTERVAL: отрицательное значение")
	}

	// --- Кэш отпечатков ---

	cfg.FingerprintCacheSize, err = getEnvInt("AT_FINGERPRINT_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("AT_FINGERPRINT_CACHE_SIZE: %w", err)
	}
	if cfg.FingerprintCacheSize < 1 {
		return nil, fmt.Errorf("AT_FINGERPRINT_CACHE_SIZE: значение %d меньше 1", cfg.FingerprintCacheSize)
	}
	cfg.FingerprintCacheTTL, err = getEnvDuration("AT_FINGERPRINT_CACHE_TTL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AT_FINGERPRINT_CACHE_TTL: %w", err)
	}

	// --- MQTT ---

	cfg.MQTTBrokerURL = getEnvDefault("AT_MQTT_BROKER_URL", "")
	cfg.MQTTClientID = getEnvDefault("AT_MQTT_CLIENT_ID", "attendance-server")
	cfg.MQTTUsername = getEnvDefault("AT_MQTT_USERNAME", "")
	cfg.MQTTPassword = getEnvDefault("AT_MQTT_PASSWORD", "")
	cfg.MQTTTopicPrefix = strings.TrimRight(getEnvDefault("AT_MQTT_TOPIC_PREFIX", "attendance/devices"), "/")

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("AT_DEPHEALTH_GROUP", "attendance")
	cfg.DephealthCheckInterval, err = getEnvDuration("AT_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AT_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	cfg.ShutdownTimeout, err = getEnvDuration("AT_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AT_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов метрик).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// MQTTEnabled — включены ли уведомления устройств через MQTT.
func (c *Config) MQTTEnabled() bool {
	return c.MQTTBrokerURL != ""
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
