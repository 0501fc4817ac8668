// Package config handles application configuration loading and management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Pool     PoolConfig
	Retry    RetryConfig
	Cache    CacheConfig
	Log      LogConfig
	Shutdown ShutdownConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host    string
	Port    int
	GinMode string
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds document database configuration. A full URI takes
// precedence over the discrete host settings.
type DatabaseConfig struct {
	URI           string
	Host          string
	Port          string
	Database      string
	ClientCertPEM string
	ClientKeyPEM  string
}

// ResolveURI returns the connection URI, preferring the explicit URI over
// one assembled from the discrete host settings.
func (c DatabaseConfig) ResolveURI() string {
	if c.URI != "" {
		return c.URI
	}
	return fmt.Sprintf("mongodb://%s:%s", c.Host, c.Port)
}

// PoolConfig holds connection pooling configuration.
type PoolConfig struct {
	Enabled     bool
	IdleTimeout time.Duration
	MaxIdleTime time.Duration
}

// RetryConfig holds retry executor configuration.
type RetryConfig struct {
	Enabled      bool
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// CacheConfig holds cache-related configuration.
type CacheConfig struct {
	Enabled       bool
	Host          string
	Port          string
	Password      string
	DB            int
	TTL           time.Duration
	KeyPrefix     string
	EncryptionKey string
}

// Addr returns the cache address in host:port format.
func (c CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string
	Format string
}

// ShutdownConfig holds graceful shutdown configuration.
type ShutdownConfig struct {
	Timeout time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:    getEnv("SERVER_HOST", "0.0.0.0"),
			Port:    getEnvAsInt("SERVER_PORT", 8080),
			GinMode: getEnv("GIN_MODE", "release"),
		},
		Database: DatabaseConfig{
			URI:           getEnv("MONGODB_URI", ""),
			Host:          getEnv("MONGODB_HOST", "localhost"),
			Port:          getEnv("MONGODB_PORT", "27017"),
			Database:      getEnv("MONGODB_DATABASE", "docbridge"),
			ClientCertPEM: getEnv("MONGODB_CLIENT_CERT_PEM", ""),
			ClientKeyPEM:  getEnv("MONGODB_CLIENT_KEY_PEM", ""),
		},
		Pool: PoolConfig{
			Enabled:     getEnvAsBool("POOL_ENABLED", true),
			IdleTimeout: getEnvAsDuration("POOL_IDLE_TIMEOUT", 5*time.Minute),
			MaxIdleTime: getEnvAsDuration("POOL_MAX_IDLE_TIME", 10*time.Minute),
		},
		Retry: RetryConfig{
			Enabled:      getEnvAsBool("RETRY_ENABLED", true),
			MaxRetries:   getEnvAsInt("RETRY_MAX_RETRIES", 3),
			InitialDelay: getEnvAsDuration("RETRY_INITIAL_DELAY", 100*time.Millisecond),
			MaxDelay:     getEnvAsDuration("RETRY_MAX_DELAY", 5*time.Second),
			Multiplier:   getEnvAsFloat("RETRY_MULTIPLIER", 2.0),
		},
		Cache: CacheConfig{
			Enabled:       getEnvAsBool("CACHE_ENABLED", false),
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnv("REDIS_PORT", "6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			TTL:           getEnvAsDuration("CACHE_TTL", 180*time.Second),
			KeyPrefix:     getEnv("CACHE_KEY_PREFIX", "docbridge"),
			EncryptionKey: getEnv("CACHE_ENCRYPTION_KEY", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Shutdown: ShutdownConfig{
			Timeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
	}

	return cfg, nil
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as a float with a default value.
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as a boolean with a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}

// getEnvAsDuration gets an environment variable as a duration with a default value.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
