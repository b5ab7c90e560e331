package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string

	AuthJWTSecret string

	// External checkout gateway collaborator
	GatewayBaseURL       string
	GatewayAPIKey        string
	GatewayWebhookSecret string
	CheckoutSuccessURL   string
	CheckoutCancelURL    string
	CheckoutHoldTTL      time.Duration

	// Settlement compensation retry policy
	CompensationMaxAttempts int
	CompensationBaseDelay   time.Duration

	// Availability rolling window
	AvailabilityWindowDays int

	// Notification collaborator
	NotifyWebhookURL       string
	OutboxPollInterval     time.Duration
	OutboxBatchSize        int
	PendingTransactionTTL  time.Duration
	ReconcileScanInterval  time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		GatewayBaseURL:       getEnv("GATEWAY_BASE_URL", ""),
		GatewayAPIKey:        getEnv("GATEWAY_API_KEY", ""),
		GatewayWebhookSecret: getEnv("GATEWAY_WEBHOOK_SECRET", ""),
		CheckoutSuccessURL:   getEnv("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:    getEnv("CHECKOUT_CANCEL_URL", ""),
		CheckoutHoldTTL:      getEnvAsDuration("CHECKOUT_HOLD_TTL", 15*time.Minute),

		CompensationMaxAttempts: getEnvAsInt("COMPENSATION_MAX_ATTEMPTS", 3),
		CompensationBaseDelay:   getEnvAsDuration("COMPENSATION_BASE_DELAY", 100*time.Millisecond),

		AvailabilityWindowDays: getEnvAsInt("AVAILABILITY_WINDOW_DAYS", 14),

		NotifyWebhookURL:      getEnv("NOTIFY_WEBHOOK_URL", ""),
		OutboxPollInterval:    getEnvAsDuration("OUTBOX_POLL_INTERVAL", 5*time.Second),
		OutboxBatchSize:       getEnvAsInt("OUTBOX_BATCH_SIZE", 50),
		PendingTransactionTTL: getEnvAsDuration("PENDING_TRANSACTION_TTL", time.Hour),
		ReconcileScanInterval: getEnvAsDuration("RECONCILE_SCAN_INTERVAL", 10*time.Minute),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
