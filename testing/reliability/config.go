package reliability

import (
	"os"
	"strconv"
	"time"
)

// ReliabilityConfig holds configuration for reliability testing.
type ReliabilityConfig struct {
	Level            string        // "basic" or "stress"
	Duration         time.Duration // How long stress tests keep driving
	MaxGoroutines    int           // Concurrent drivers
	Items            int           // Items per drive
	FailureThreshold float64       // Tolerated dropped-span rate (0.0-1.0)
}

// getReliabilityConfig reads configuration from environment variables.
func getReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		Level:            getEnv("SPLITZ_RELIABILITY_LEVEL", ""),
		Duration:         parseDuration(getEnv("SPLITZ_RELIABILITY_DURATION", "5s")),
		MaxGoroutines:    parseInt(getEnv("SPLITZ_RELIABILITY_MAX_GOROUTINES", "32"), 32),
		Items:            parseInt(getEnv("SPLITZ_RELIABILITY_ITEMS", "4096"), 4096),
		FailureThreshold: parseFloat(getEnv("SPLITZ_RELIABILITY_FAILURE_THRESHOLD", "0.05")),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, fallback int) int {
	if value, err := strconv.Atoi(s); err == nil && value > 0 {
		return value
	}
	return fallback
}

func parseFloat(s string) float64 {
	if value, err := strconv.ParseFloat(s, 64); err == nil {
		return value
	}
	return 0.0
}

func parseDuration(s string) time.Duration {
	if duration, err := time.ParseDuration(s); err == nil {
		return duration
	}
	return 5 * time.Second
}
