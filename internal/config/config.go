package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModelID       string

	// Conversation tuning
	ExtractionTimeout      time.Duration
	StorageTimeout         time.Duration
	SessionRetryBudget     int
	SessionRetention       time.Duration
	SessionCleanupInterval time.Duration
	CorrectionPolicy       string
	TenantCacheTTL         time.Duration

	// Usage metering retries
	UsageRetryQueueURL string
	UsageRetryInterval time.Duration

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	TelnyxWebhookSecret string
	WebhookRateLimit    float64
	WebhookRateBurst    int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "eu-west-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		ExtractionTimeout:      getEnvAsDuration("EXTRACTION_TIMEOUT", 4*time.Second),
		StorageTimeout:         getEnvAsDuration("STORAGE_TIMEOUT", 3*time.Second),
		SessionRetryBudget:     getEnvAsInt("SESSION_RETRY_BUDGET", 3),
		SessionRetention:       getEnvAsDuration("SESSION_RETENTION", 72*time.Hour),
		SessionCleanupInterval: getEnvAsDuration("SESSION_CLEANUP_INTERVAL", time.Hour),
		CorrectionPolicy:       strings.ToLower(strings.TrimSpace(getEnv("CORRECTION_POLICY", "overwrite"))),
		TenantCacheTTL:         getEnvAsDuration("TENANT_CACHE_TTL", 5*time.Minute),

		UsageRetryQueueURL: getEnv("USAGE_RETRY_QUEUE_URL", ""),
		UsageRetryInterval: getEnvAsDuration("USAGE_RETRY_INTERVAL", 30*time.Second),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Telefoonassistent"),

		TelnyxWebhookSecret: getEnv("TELNYX_WEBHOOK_SECRET", ""),
		WebhookRateLimit:    getEnvAsFloat("WEBHOOK_RATE_LIMIT", 50),
		WebhookRateBurst:    getEnvAsInt("WEBHOOK_RATE_BURST", 100),
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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
