package reliability

import (
	"os"
	"strconv"
	"time"
)

// ReliabilityConfig holds configuration for reliability testing.
type ReliabilityConfig struct {
	Level         string        // "basic" or "stress"
	Duration      time.Duration // Test duration for stress tests
	MaxGoroutines int           // Maximum goroutines for concurrent tests
}

// getReliabilityConfig reads configuration from environment variables.
func getReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Level:         getEnv("CAUSEZ_RELIABILITY_LEVEL", ""),
		Duration:      parseDuration(getEnv("CAUSEZ_RELIABILITY_DURATION", "5s")),
		MaxGoroutines: parseInt(getEnv("CAUSEZ_RELIABILITY_MAX_GOROUTINES", "100")),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string) int {
	if value, err := strconv.Atoi(s); err == nil {
		return value
	}
	return 0
}

func parseDuration(s string) time.Duration {
	if duration, err := time.ParseDuration(s); err == nil {
		return duration
	}
	return 5 * time.Second
}
