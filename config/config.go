// Package config provides configuration for the agent server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Anthropic API
	AnthropicAPIKey string
	Model           string
	MaxTokens       int64

	// Agent settings
	MessageBatchSize int // batch size for buffered message inserts
	RecentImageLimit int // how many most recent screenshots stay in the conversation

	// WebSocket settings
	WriteTimeout   time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8000),
		DatabaseURL:      getEnv("DATABASE_URL", "file:agentd.db?cache=shared&mode=rwc"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		Model:            getEnv("MODEL", "claude-sonnet-4-5-20250929"),
		MaxTokens:        int64(getEnvInt("MAX_TOKENS", 4096)),
		MessageBatchSize: getEnvInt("MESSAGE_BATCH_SIZE", 10),
		RecentImageLimit: getEnvInt("RECENT_IMAGE_LIMIT", 3),
		WriteTimeout:     time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		MaxMessageSize:   int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
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
