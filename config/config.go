// Package config loads service configuration from environment variables
// and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config represents the application configuration.
type Config struct {
	Port        int
	DBPath      string
	AuditPath   string // empty disables the bbolt audit mirror
	LogLevel    slog.Level
	CORSOrigins []string
}

// Load loads configuration from environment variables.
// It loads a .env file from the current directory if one exists; a custom
// path must exist.
func Load(envPath ...string) (*Config, error) {
	if len(envPath) > 0 && envPath[0] != "" {
		if err := godotenv.Load(envPath[0]); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	port, err := parseIntEnv("BOOKS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid BOOKS_PORT: %w", err)
	}

	level, err := parseLevel(getEnvOrDefault("BOOKS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid BOOKS_LOG_LEVEL: %w", err)
	}

	return &Config{
		Port:        port,
		DBPath:      getEnvOrDefault("BOOKS_DB_PATH", "./books.db"),
		AuditPath:   os.Getenv("BOOKS_AUDIT_PATH"),
		LogLevel:    level,
		CORSOrigins: splitList(getEnvOrDefault("BOOKS_CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")),
	}, nil
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
