package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию процесса.
// Настройки процесса (сервер, БД, логирование) читаются из переменных
// окружения; определения ботов - из отдельного JSON-файла (bots.go).
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Engine   EngineConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера (операторский API)
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	// APITokenHash - bcrypt-хеш операторского токена.
	// Пустой хеш отключает аутентификацию API.
	APITokenHash string
}

// EngineConfig - настройки движка исполнения
type EngineConfig struct {
	// BotsFile - путь к JSON-файлу с определениями ботов
	BotsFile string

	// WebSocket фид
	WSURL            string        // явный URL фида, "" = по имени биржи
	WSReconnectDelay time.Duration // начальная задержка переподключения
	WSPingInterval   time.Duration // интервал ping
	WSConnectTimeout time.Duration // таймаут установки соединения

	// Retry для вызовов биржи
	MaxRetries   int
	RetryBackoff time.Duration
	OrderTimeout time.Duration // таймаут одного вызова транспорта

	// Supervisor
	MaxRestarts    int           // потолок перезапусков инстанса
	RestartBackoff time.Duration // базовая задержка перезапуска
	Workers        int           // пул исполнителей групповых команд

	// Сверка при старте
	RecoveryTimeout time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "xbot"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			APITokenHash: getEnv("API_TOKEN_HASH", ""),
		},
		Engine: EngineConfig{
			BotsFile: getEnv("BOTS_FILE", "bots.json"),

			WSURL:            getEnv("WS_URL", ""),
			WSReconnectDelay: getEnvAsDuration("WS_RECONNECT_DELAY", 2*time.Second),
			WSPingInterval:   getEnvAsDuration("WS_PING_INTERVAL", 30*time.Second),
			WSConnectTimeout: getEnvAsDuration("WS_CONNECT_TIMEOUT", 10*time.Second),

			MaxRetries:   getEnvAsInt("MAX_RETRIES", 4),
			RetryBackoff: getEnvAsDuration("RETRY_BACKOFF", 500*time.Millisecond),
			OrderTimeout: getEnvAsDuration("ORDER_TIMEOUT", 5*time.Second),

			MaxRestarts:    getEnvAsInt("MAX_RESTARTS", 5),
			RestartBackoff: getEnvAsDuration("RESTART_BACKOFF", time.Second),
			Workers:        getEnvAsInt("SCHEDULER_WORKERS", 4),

			RecoveryTimeout: getEnvAsDuration("RECOVERY_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate проверяет числовые диапазоны и параметры безопасности
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES cannot be negative, got %d", c.Engine.MaxRetries)
	}

	if c.Engine.MaxRetries > 10 {
		return fmt.Errorf("MAX_RETRIES should not exceed 10, got %d", c.Engine.MaxRetries)
	}

	if c.Engine.OrderTimeout <= 0 {
		return fmt.Errorf("ORDER_TIMEOUT must be positive, got %v", c.Engine.OrderTimeout)
	}

	if c.Engine.MaxRestarts < 0 {
		return fmt.Errorf("MAX_RESTARTS cannot be negative, got %d", c.Engine.MaxRestarts)
	}

	if c.Engine.Workers < 1 {
		return fmt.Errorf("SCHEDULER_WORKERS must be at least 1, got %d", c.Engine.Workers)
	}

	if c.Engine.RecoveryTimeout <= 0 {
		return fmt.Errorf("RECOVERY_TIMEOUT must be positive, got %v", c.Engine.RecoveryTimeout)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
