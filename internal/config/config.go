// Package config provides configuration for the chat server.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	Port int

	// Database
	DatabaseURL string

	// Auth settings
	APIKey string // Shared key checked by the static verifier

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Call settings
	RingTimeout time.Duration // 0 disables the ringing auto-expiry

	// Logging
	LogLevel string
}

// Load loads configuration from the environment, reading a .env file
// first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           getEnvInt("PORT", 8080),
		DatabaseURL:    getEnv("DATABASE_URL", "file:chatwire.db?cache=shared&mode=rwc"),
		APIKey:         getEnv("API_KEY", ""),
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		RingTimeout:    time.Duration(getEnvInt("CALL_RING_TIMEOUT_MS", 60000)) * time.Millisecond,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
