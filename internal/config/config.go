package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Registry backends selectable via REGISTRY_BACKEND.
const (
	RegistryBackendFile     = "file"
	RegistryBackendRedis    = "redis"
	RegistryBackendPostgres = "postgres"
)

// Config holds all configuration for the usage monitor
type Config struct {
	Server        ServerConfig
	Auth          AuthConfig
	Registry      RegistryConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Langfuse      LangfuseConfig
	Notifications NotificationsConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

// AuthConfig holds token signing and admin access configuration
type AuthConfig struct {
	TokenSecretKey string
	AdminAPIToken  string
}

// RegistryConfig selects and configures the token registry backend
type RegistryConfig struct {
	Backend    string
	TokensFile string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

// LangfuseConfig holds observability backend configuration
type LangfuseConfig struct {
	Host      string
	PublicKey string
	SecretKey string
	Timeout   time.Duration
}

// NotificationsConfig holds outbound notification configuration
type NotificationsConfig struct {
	SlackWebhookURL string
	SlackChannel    string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8000),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", "30s"),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", "30s"),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", "120s"),
			AllowedOrigins: strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		},
		Auth: AuthConfig{
			TokenSecretKey: getEnv("TOKEN_SECRET_KEY", ""),
			AdminAPIToken:  getEnv("ADMIN_API_TOKEN", ""),
		},
		Registry: RegistryConfig{
			Backend:    getEnv("REGISTRY_BACKEND", RegistryBackendFile),
			TokensFile: getEnv("TOKENS_FILE", "tokens.json"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "usage_monitor"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "usage_monitor"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
		Langfuse: LangfuseConfig{
			Host:      getEnv("LANGFUSE_HOST", "https://cloud.langfuse.com"),
			PublicKey: getEnv("LANGFUSE_PUBLIC_KEY", ""),
			SecretKey: getEnv("LANGFUSE_SECRET_KEY", ""),
			Timeout:   getEnvAsDuration("LANGFUSE_TIMEOUT", "25s"),
		},
		Notifications: NotificationsConfig{
			SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			SlackChannel:    getEnv("SLACK_CHANNEL", ""),
		},
	}

	// Validate required fields
	if cfg.Auth.TokenSecretKey == "" {
		return nil, fmt.Errorf("TOKEN_SECRET_KEY is required")
	}

	if cfg.Auth.AdminAPIToken == "" {
		return nil, fmt.Errorf("ADMIN_API_TOKEN is required")
	}

	if cfg.Langfuse.PublicKey == "" || cfg.Langfuse.SecretKey == "" {
		return nil, fmt.Errorf("LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY are required")
	}

	switch cfg.Registry.Backend {
	case RegistryBackendFile, RegistryBackendRedis, RegistryBackendPostgres:
	default:
		return nil, fmt.Errorf("unknown REGISTRY_BACKEND %q", cfg.Registry.Backend)
	}

	if cfg.Registry.Backend == RegistryBackendPostgres && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required for the postgres registry backend")
	}

	return cfg, nil
}

// LoadRegistryConfig loads only what direct registry access needs: the
// signing secret and the backend settings. The admin CLI uses this so it
// can run without the server-side Langfuse and admin credentials.
func LoadRegistryConfig() (*Config, error) {
	cfg := &Config{
		Auth: AuthConfig{
			TokenSecretKey: getEnv("TOKEN_SECRET_KEY", ""),
		},
		Registry: RegistryConfig{
			Backend:    getEnv("REGISTRY_BACKEND", RegistryBackendFile),
			TokensFile: getEnv("TOKENS_FILE", "tokens.json"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "usage_monitor"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "usage_monitor"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 10),
		},
	}

	if cfg.Auth.TokenSecretKey == "" {
		return nil, fmt.Errorf("TOKEN_SECRET_KEY is required")
	}

	switch cfg.Registry.Backend {
	case RegistryBackendFile, RegistryBackendRedis, RegistryBackendPostgres:
	default:
		return nil, fmt.Errorf("unknown REGISTRY_BACKEND %q", cfg.Registry.Backend)
	}

	return cfg, nil
}

// Helper functions for environment variable parsing
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

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ := time.ParseDuration(defaultValue)
		return duration
	}
	return value
}
