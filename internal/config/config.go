package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort   string
	DatabaseURL  string
	RedisURL     string
	MoveThrottle time.Duration
	TextThrottle time.Duration
	HistoryDepth int
	PresenceTTL  time.Duration
}

func LoadConfig() (*Config, error) {
	moveThrottle, err := time.ParseDuration(getEnv("MOVE_THROTTLE", "16ms"))
	if err != nil {
		return nil, errors.New("invalid MOVE_THROTTLE format")
	}
	textThrottle, err := time.ParseDuration(getEnv("TEXT_THROTTLE", "50ms"))
	if err != nil {
		return nil, errors.New("invalid TEXT_THROTTLE format")
	}
	presenceTTL, err := time.ParseDuration(getEnv("PRESENCE_TTL", "60s"))
	if err != nil {
		return nil, errors.New("invalid PRESENCE_TTL format")
	}
	historyDepth, err := strconv.Atoi(getEnv("HISTORY_DEPTH", "50"))
	if err != nil || historyDepth <= 0 {
		return nil, fmt.Errorf("invalid HISTORY_DEPTH: %s", getEnv("HISTORY_DEPTH", "50"))
	}

	cfg := &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		MoveThrottle: moveThrottle,
		TextThrottle: textThrottle,
		HistoryDepth: historyDepth,
		PresenceTTL:  presenceTTL,
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
