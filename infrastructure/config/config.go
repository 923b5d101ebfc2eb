package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string

	// Remote community API
	APIBaseURL        string
	APITimeout        time.Duration
	BreakerMaxFailure float64
	BreakerMinRequest uint32
	BreakerOpenFor    time.Duration

	// AWS configuration
	AWSRegion     string
	SnapshotTable string
	EventBusName  string

	// Lambda configuration
	LambdaFunctionName string
	ColdStartTimeout   int // milliseconds

	// Sessions
	SessionTTL time.Duration

	// Rate limiting of mutations, per viewer
	MutationRateLimit  int
	MutationRateWindow time.Duration

	// Logging
	LogLevel string

	// Authentication
	JWTSecret string
	JWTIssuer string

	// Feature flags
	EnableMetrics   bool
	EnableTracing   bool
	EnableCORS      bool
	EnableSnapshots bool

	// CORS
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		APIBaseURL:        getEnv("API_BASE_URL", "http://localhost:3000"),
		APITimeout:        getEnvDuration("API_TIMEOUT", 10*time.Second),
		BreakerMaxFailure: getEnvFloat("BREAKER_FAILURE_RATIO", 0.6),
		BreakerMinRequest: uint32(getEnvInt("BREAKER_MIN_REQUESTS", 5)),
		BreakerOpenFor:    getEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),

		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		SnapshotTable: getEnv("SNAPSHOT_TABLE", "community-sync-snapshots"),
		EventBusName:  getEnv("EVENT_BUS_NAME", ""),

		// Lambda configuration
		LambdaFunctionName: getEnv("AWS_LAMBDA_FUNCTION_NAME", ""),
		ColdStartTimeout:   getEnvInt("COLD_START_TIMEOUT", 3000),

		SessionTTL: getEnvDuration("SESSION_TTL", 30*time.Minute),

		MutationRateLimit:  getEnvInt("MUTATION_RATE_LIMIT", 60),
		MutationRateWindow: getEnvDuration("MUTATION_RATE_WINDOW", time.Minute),

		// Authentication
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", ""),

		// Logging and features
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		EnableMetrics:   getEnvBool("ENABLE_METRICS", false),
		EnableTracing:   getEnvBool("ENABLE_TRACING", false),
		EnableCORS:      getEnvBool("ENABLE_CORS", true),
		EnableSnapshots: getEnvBool("ENABLE_SNAPSHOTS", false),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.BreakerMaxFailure <= 0 || c.BreakerMaxFailure > 1 {
		return fmt.Errorf("BREAKER_FAILURE_RATIO must be in (0, 1]")
	}
	if c.MutationRateLimit <= 0 || c.MutationRateWindow <= 0 {
		return fmt.Errorf("mutation rate limit and window must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.EnableSnapshots && c.SnapshotTable == "" {
		return fmt.Errorf("SNAPSHOT_TABLE is required when snapshots are enabled")
	}

	if c.Environment == "production" {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
	}

	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("30s", "5m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList reads a comma-separated list
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
