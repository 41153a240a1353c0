// Package config provides configuration management for the task router.
// It loads settings from environment variables with sensible defaults and
// validates them so the application fails at startup, not mid-request.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Database Configuration:
//   - DATABASE_TYPE: "sqlite", "postgres", or "memory" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./task_router.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required if using PostgreSQL)
//   - POSTGRES_USER: PostgreSQL username (required if using PostgreSQL)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Redis Configuration (optional; enables distributed locking, rate limiting,
// and event publishing):
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_ENABLED: Whether to connect to Redis at all (default: false)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Routing:
//   - ROUTING_DEFAULT_QUEUE: Queue id receiving unmatched requests (default: general)
//   - ROUTING_MAX_ALTERNATIVES: Alternatives recorded per decision (default: 3)
//   - CONFIDENCE_WEIGHT_RULE: Rule-match confidence weight (default: 0.40)
//   - CONFIDENCE_WEIGHT_SKILL: Skill-match confidence weight (default: 0.30)
//   - CONFIDENCE_WEIGHT_AVAILABILITY: Availability confidence weight (default: 0.25)
//   - CONFIDENCE_WEIGHT_HISTORY: Historical-accuracy confidence weight (default: 0.05)
//
// External Collaborators:
//   - CLASSIFIER_URL: Content classifier endpoint (empty disables classification)
//   - WORKLOAD_SERVICE_URL: Workload service endpoint (empty uses store-backed counters)
//   - COLLABORATOR_TIMEOUT: HTTP timeout for collaborator calls (default: 5s)
//
// Escalation:
//   - ESCALATION_SWEEP_INTERVAL: Due-timer sweep cadence (default: 30s)
//   - ESCALATION_BATCH_SIZE: Max timers processed per sweep (default: 100)
//
// Metrics:
//   - METRICS_ROLLUP_SCHEDULE: Cron spec for the accuracy rollup (default: "@hourly")
//   - METRICS_ACCURACY_WINDOW_DAYS: Feedback window for accuracy (default: 30)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED: Enable API rate limiting (default: true)
//   - RATE_LIMIT_DEFAULT: Requests per window (default: 100)
//   - RATE_LIMIT_WINDOW: Window duration (default: 60s)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the task router.
type Config struct {
	// Application settings
	Port     string
	LogLevel string

	// Database configuration
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis configuration for distributed coordination
	RedisEnabled  bool
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	// Routing behavior
	DefaultQueueID          string
	MaxAlternatives         int
	ConfidenceWeightRule    float64
	ConfidenceWeightSkill   float64
	ConfidenceWeightAvail   float64
	ConfidenceWeightHistory float64

	// External collaborators
	ClassifierURL       string
	WorkloadServiceURL  string
	CollaboratorTimeout time.Duration

	// Escalation sweep
	EscalationSweepInterval time.Duration
	EscalationBatchSize     int

	// Metrics rollup
	MetricsRollupSchedule     string
	MetricsAccuracyWindowDays int

	// Rate limiting
	RateLimitEnabled bool
	RateLimitDefault string
	RateLimitWindow  string
}

// Load creates a Config from environment variables. Missing variables fall
// back to defaults; call Validate before use.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./task_router.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "task_router"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		DefaultQueueID:          getEnv("ROUTING_DEFAULT_QUEUE", "general"),
		MaxAlternatives:         getIntEnv("ROUTING_MAX_ALTERNATIVES", 3),
		ConfidenceWeightRule:    getFloatEnv("CONFIDENCE_WEIGHT_RULE", 0.40),
		ConfidenceWeightSkill:   getFloatEnv("CONFIDENCE_WEIGHT_SKILL", 0.30),
		ConfidenceWeightAvail:   getFloatEnv("CONFIDENCE_WEIGHT_AVAILABILITY", 0.25),
		ConfidenceWeightHistory: getFloatEnv("CONFIDENCE_WEIGHT_HISTORY", 0.05),

		ClassifierURL:       getEnv("CLASSIFIER_URL", ""),
		WorkloadServiceURL:  getEnv("WORKLOAD_SERVICE_URL", ""),
		CollaboratorTimeout: getDurationEnv("COLLABORATOR_TIMEOUT", 5*time.Second),

		EscalationSweepInterval: getDurationEnv("ESCALATION_SWEEP_INTERVAL", 30*time.Second),
		EscalationBatchSize:     getIntEnv("ESCALATION_BATCH_SIZE", 100),

		MetricsRollupSchedule:     getEnv("METRICS_ROLLUP_SCHEDULE", "@hourly"),
		MetricsAccuracyWindowDays: getIntEnv("METRICS_ACCURACY_WINDOW_DAYS", 30),

		RateLimitEnabled: getBoolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitDefault: getEnv("RATE_LIMIT_DEFAULT", "100"),
		RateLimitWindow:  getEnv("RATE_LIMIT_WINDOW", "60s"),
	}
}

// Validate checks required fields, formats, and cross-field dependencies.
// The application should refuse to start on error.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql", "memory":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite', 'postgres', or 'memory'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisEnabled {
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when Redis is enabled")
		}
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
	}

	if c.DefaultQueueID == "" {
		return fmt.Errorf("ROUTING_DEFAULT_QUEUE must not be empty")
	}

	weights := []struct {
		name  string
		value float64
	}{
		{"CONFIDENCE_WEIGHT_RULE", c.ConfidenceWeightRule},
		{"CONFIDENCE_WEIGHT_SKILL", c.ConfidenceWeightSkill},
		{"CONFIDENCE_WEIGHT_AVAILABILITY", c.ConfidenceWeightAvail},
		{"CONFIDENCE_WEIGHT_HISTORY", c.ConfidenceWeightHistory},
	}
	sum := 0.0
	for _, w := range weights {
		if w.value < 0 || w.value > 1 {
			return fmt.Errorf("%s must be between 0 and 1", w.name)
		}
		sum += w.value
	}
	if sum <= 0 {
		return fmt.Errorf("confidence weights must not all be zero")
	}

	if c.EscalationSweepInterval < time.Second {
		return fmt.Errorf("ESCALATION_SWEEP_INTERVAL must be at least 1s")
	}
	if c.EscalationBatchSize < 1 {
		return fmt.Errorf("ESCALATION_BATCH_SIZE must be positive")
	}
	if c.MetricsAccuracyWindowDays < 1 {
		return fmt.Errorf("METRICS_ACCURACY_WINDOW_DAYS must be positive")
	}

	if c.RateLimitEnabled {
		if _, err := strconv.Atoi(c.RateLimitDefault); err != nil {
			return fmt.Errorf("RATE_LIMIT_DEFAULT must be a number")
		}
		if _, err := time.ParseDuration(c.RateLimitWindow); err != nil {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be a valid duration (e.g. 60s)")
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
