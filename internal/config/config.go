package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Completion gateway
	LLMProvider         string
	LLMFallbackProvider string
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModel         string
	LLMMaxTokens        int
	LLMTemperature      float64
	LLMTimeout          time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Evolution API (WhatsApp transport)
	EvolutionAPIURL       string
	EvolutionAPIKey       string
	EvolutionMaxRetries   int
	EvolutionWebhookToken string

	// Tenancy and capacity
	FallbackTenantID string
	TenantCacheTTL   time.Duration
	CapacityReply    string
	FallbackReply    string

	// Qualification thresholds
	QualRequiredMin int
	QualOptionalMin int
	QualMinMessages int
	QualLossWindow  int
	QualLossPhrases []string

	HistoryLimit       int
	PersistMaxAttempts int
	LockTTL            time.Duration
	LockWait           time.Duration

	// Fan-out
	FanoutMode        string
	FanoutQueueURL    string
	FanoutSinkTimeout time.Duration
	FanoutConcurrency int

	// Email notifications
	EmailProvider   string
	SendGridAPIKey  string
	NotifyFromEmail string
	NotifyFromName  string

	RabbitMQURL      string
	RabbitMQExchange string

	GoogleCredentialsFile string
	ArchiveBucket         string

	AdminJWTSecret string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "gemini"))),
		LLMFallbackProvider: strings.ToLower(strings.TrimSpace(getEnv("LLM_FALLBACK_PROVIDER", ""))),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		LLMMaxTokens:        getEnvAsInt("LLM_MAX_TOKENS", 800),
		LLMTemperature:      getEnvAsFloat("LLM_TEMPERATURE", 0.4),
		LLMTimeout:          getEnvAsDuration("LLM_TIMEOUT", 30*time.Second),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		EvolutionAPIURL:       getEnv("EVOLUTION_API_URL", ""),
		EvolutionAPIKey:       getEnv("EVOLUTION_API_KEY", ""),
		EvolutionMaxRetries:   getEnvAsInt("EVOLUTION_MAX_RETRIES", 2),
		EvolutionWebhookToken: getEnv("EVOLUTION_WEBHOOK_TOKEN", ""),

		FallbackTenantID: getEnv("FALLBACK_TENANT_ID", ""),
		TenantCacheTTL:   getEnvAsDuration("TENANT_CACHE_TTL", 5*time.Minute),
		CapacityReply:    getEnv("CAPACITY_REPLY", "Thanks for reaching out! Our team is at capacity right now and will get back to you shortly."),
		FallbackReply:    getEnv("FALLBACK_REPLY", "Thanks for your message! Could you tell me a little more about what you need?"),

		QualRequiredMin: getEnvAsInt("QUAL_REQUIRED_MIN", 2),
		QualOptionalMin: getEnvAsInt("QUAL_OPTIONAL_MIN", 1),
		QualMinMessages: getEnvAsInt("QUAL_MIN_MESSAGES", 6),
		QualLossWindow:  getEnvAsInt("QUAL_LOSS_WINDOW", 4),
		QualLossPhrases: getEnvAsList("QUAL_LOSS_PHRASES", nil),

		HistoryLimit:       getEnvAsInt("HISTORY_LIMIT", 10),
		PersistMaxAttempts: getEnvAsInt("PERSIST_MAX_ATTEMPTS", 3),
		LockTTL:            getEnvAsDuration("LOCK_TTL", 90*time.Second),
		LockWait:           getEnvAsDuration("LOCK_WAIT", 10*time.Second),

		FanoutMode:        strings.ToLower(strings.TrimSpace(getEnv("FANOUT_MODE", "inline"))),
		FanoutQueueURL:    getEnv("FANOUT_QUEUE_URL", ""),
		FanoutSinkTimeout: getEnvAsDuration("FANOUT_SINK_TIMEOUT", 10*time.Second),
		FanoutConcurrency: getEnvAsInt("FANOUT_CONCURRENCY", 4),

		EmailProvider:   strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		SendGridAPIKey:  getEnv("SENDGRID_API_KEY", ""),
		NotifyFromEmail: getEnv("NOTIFY_FROM_EMAIL", ""),
		NotifyFromName:  getEnv("NOTIFY_FROM_NAME", "SDR Agent"),

		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "sdr.leads"),

		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		ArchiveBucket:         getEnv("ARCHIVE_BUCKET", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
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

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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

// getEnvAsList splits a comma separated variable, dropping blank entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
