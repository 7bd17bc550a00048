package logging

import (
	"os"
	"strings"
)

// Environment names recognized by GetConfigFromEnv.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// GetConfigFromEnv creates a logger configuration based on environment variables.
func GetConfigFromEnv() Config {
	config := DefaultConfig

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Level = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Format = strings.ToLower(format)
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		config.Environment = strings.ToLower(env)
	}
	if addSource := os.Getenv("LOG_ADD_SOURCE"); addSource != "" {
		config.AddSource = strings.ToLower(addSource) == "true"
	}

	switch config.Environment {
	case EnvProduction:
		// Production: JSON output, no source info for performance.
		config.Format = "json"
		config.AddSource = false

	case EnvTest, EnvDevelopment:
		// Text output for readability, verbose by default.
		config.Format = "text"
		if config.Level == "info" {
			config.Level = "debug"
		}
	}

	return config
}
