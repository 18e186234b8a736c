package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Server
	Port            int
	Environment     string
	ShutdownTimeout time.Duration
	LogLevel        string
	AppBaseURL      string
	CronSecret      string

	// Database
	DatabaseURL         string
	DBMaxConnections    int
	DBConnectionTimeout time.Duration

	// Clerk Auth
	ClerkSecretKey string

	// S3
	S3Bucket       string
	S3Region       string
	AWSEndpoint    string // For LocalStack in development
	MaxUploadBytes int64

	// Categorization oracle
	GeminiAPIKey      string
	GeminiModel       string
	ClassifierTimeout time.Duration

	// rs.ge gateway
	RSGeAPIURL       string
	GatewayTimeout   time.Duration
	GatewayRateLimit int // requests per second
	EncryptionKey    string

	// Email
	MailgunDomain string
	MailgunAPIKey string
	SenderEmail   string
	SenderName    string

	// Workers
	WorkerCount     int
	QueueBufferSize int

	// Statements processing for longer than this at startup are moved to error
	StaleProcessingAfter time.Duration
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Port:                 getEnvInt("PORT", 8080),
		Environment:          getEnv("ENVIRONMENT", "development"),
		ShutdownTimeout:      getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		AppBaseURL:           getEnv("APP_BASE_URL", "http://localhost:3000"),
		CronSecret:           getEnv("CRON_SECRET", ""),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		DBMaxConnections:     getEnvInt("DB_MAX_CONNECTIONS", 25),
		DBConnectionTimeout:  getEnvDuration("DB_CONNECTION_TIMEOUT", 30*time.Second),
		ClerkSecretKey:       getEnv("CLERK_SECRET_KEY", ""),
		S3Bucket:             getEnv("S3_BUCKET", ""),
		S3Region:             getEnv("S3_REGION", "eu-central-1"),
		AWSEndpoint:          getEnv("AWS_ENDPOINT", ""),
		MaxUploadBytes:       int64(getEnvInt("MAX_UPLOAD_BYTES", 10*1024*1024)),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiModel:          getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		ClassifierTimeout:    getEnvDuration("CLASSIFIER_TIMEOUT", 60*time.Second),
		RSGeAPIURL:           getEnv("RSGE_API_URL", "https://rs.ge/api/service"),
		GatewayTimeout:       getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		GatewayRateLimit:     getEnvInt("GATEWAY_RATE_LIMIT", 5),
		EncryptionKey:        getEnv("ENCRYPTION_KEY", ""),
		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunAPIKey:        getEnv("MAILGUN_API_KEY", ""),
		SenderEmail:          getEnv("SENDER_EMAIL", "noreply@accountant.ge"),
		SenderName:           getEnv("SENDER_NAME", "Accountant AI"),
		WorkerCount:          getEnvInt("WORKER_COUNT", 4),
		QueueBufferSize:      getEnvInt("QUEUE_BUFFER_SIZE", 100),
		StaleProcessingAfter: getEnvDuration("STALE_PROCESSING_AFTER", 15*time.Minute),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" && cfg.Environment == "production" {
		return nil, fmt.Errorf("DATABASE_URL is required in production")
	}
	if cfg.ClerkSecretKey == "" && cfg.Environment == "production" {
		return nil, fmt.Errorf("CLERK_SECRET_KEY is required in production")
	}
	if cfg.S3Bucket == "" && cfg.Environment == "production" {
		return nil, fmt.Errorf("S3_BUCKET is required in production")
	}
	if cfg.EncryptionKey == "" && cfg.Environment == "production" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required in production")
	}
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("WORKER_COUNT must be at least 1")
	}

	return cfg, nil
}

// MailgunEnabled reports whether outbound email is configured
func (c *Config) MailgunEnabled() bool {
	return c.MailgunDomain != "" && c.MailgunAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
