// Package config loads runtime settings from the environment.
package config

import (
	"os"
	"strconv"
)

// Defaults applied when the environment leaves a setting unset.
const (
	DefaultMaxFileMB        = 500
	DefaultDecodeTimeoutSec = 120
	DefaultHeatmapTopN      = 15
)

// Config is an immutable snapshot of the environment taken at startup.
type Config struct {
	// MaxFileMB rejects capture files larger than this many megabytes
	// before any decoding starts.
	MaxFileMB int
	// DecodeTimeoutSec bounds one end-to-end analysis.
	DecodeTimeoutSec int
	// RulesDir optionally points at user YAML rules loaded on top of the
	// built-in catalog. Empty means builtins only.
	RulesDir string
	// Workers sets the rule evaluation worker count; zero means GOMAXPROCS.
	Workers int
	// HeatmapTopN bounds the path heatmap output.
	HeatmapTopN int
	// LogLevel is the slog level name (debug, info, warn, error).
	LogLevel string
}

// Load reads the PB_* environment variables, falling back to defaults.
func Load() *Config {
	return &Config{
		MaxFileMB:        getEnvInt("PB_MAX_FILE_MB", DefaultMaxFileMB),
		DecodeTimeoutSec: getEnvInt("PB_DECODE_TIMEOUT_SEC", DefaultDecodeTimeoutSec),
		RulesDir:         getEnv("PB_RULES_DIR", ""),
		Workers:          getEnvInt("PB_WORKERS", 0),
		HeatmapTopN:      getEnvInt("PB_HEATMAP_TOP_N", DefaultHeatmapTopN),
		LogLevel:         getEnv("PB_LOG_LEVEL", "info"),
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
