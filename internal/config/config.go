package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	LogFormat          string
	DatabaseURL        string
	CORSAllowedOrigins []string

	// Auth
	JWTSecret string
	JWTIssuer string

	// Scheduling rules
	ScheduleTimezone       string
	DefaultSessionMinutes  int
	JoinEarlyWindow        time.Duration
	JoinLateWindow         time.Duration
	CancellationLeadTime   time.Duration
	SlotCacheTTL           time.Duration
	BookingRateLimitPerSec float64
	BookingRateLimitBurst  int

	// Redis slot cache
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Outbox delivery
	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	// AWS (session event fan-out)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	SessionEventsQueue  string

	// Email provider: "sendgrid", "ses" or empty to pick SendGrid when keyed
	EmailProvider       string
	SESFromEmail        string
	SESConfigurationSet string

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// Reminders
	ReminderLead     time.Duration
	ReminderInterval time.Duration

	// Daily.co video rooms
	DailyAPIKey  string
	DailyBaseURL string

	// Paystack payment verification
	PaystackSecretKey string
	PaystackBaseURL   string

	// SOAP note drafting: "gemini", "bedrock" or empty to disable
	LLMProvider    string
	GeminiAPIKey   string
	GeminiModelID  string
	BedrockModelID string

	// S3 retention of redacted transcripts behind SOAP drafts
	TranscriptArchiveBucket   string
	TranscriptArchiveKMSKeyID string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is honoured when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", ""),

		ScheduleTimezone:       getEnv("SCHEDULE_TIMEZONE", "UTC"),
		DefaultSessionMinutes:  getEnvAsInt("DEFAULT_SESSION_MINUTES", 60),
		JoinEarlyWindow:        getEnvAsDuration("JOIN_EARLY_WINDOW", 30*time.Minute),
		JoinLateWindow:         getEnvAsDuration("JOIN_LATE_WINDOW", 15*time.Minute),
		CancellationLeadTime:   getEnvAsDuration("CANCELLATION_LEAD_TIME", 24*time.Hour),
		SlotCacheTTL:           getEnvAsDuration("SLOT_CACHE_TTL", 2*time.Minute),
		BookingRateLimitPerSec: getEnvAsFloat("BOOKING_RATE_LIMIT_PER_SEC", 1),
		BookingRateLimitBurst:  getEnvAsInt("BOOKING_RATE_LIMIT_BURST", 5),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 25),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		SessionEventsQueue:  getEnv("SESSION_EVENTS_QUEUE_URL", ""),

		EmailProvider:       strings.ToLower(getEnv("EMAIL_PROVIDER", "")),
		SESFromEmail:        getEnv("SES_FROM_EMAIL", ""),
		SESConfigurationSet: getEnv("SES_CONFIGURATION_SET", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Teletherapy"),

		ReminderLead:     getEnvAsDuration("REMINDER_LEAD", 24*time.Hour),
		ReminderInterval: getEnvAsDuration("REMINDER_INTERVAL", 5*time.Minute),

		DailyAPIKey:  getEnv("DAILY_API_KEY", ""),
		DailyBaseURL: getEnv("DAILY_BASE_URL", "https://api.daily.co/v1"),

		PaystackSecretKey: getEnv("PAYSTACK_SECRET_KEY", ""),
		PaystackBaseURL:   getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),

		LLMProvider:    strings.ToLower(getEnv("LLM_PROVIDER", "")),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),

		TranscriptArchiveBucket:   getEnv("TRANSCRIPT_ARCHIVE_BUCKET", ""),
		TranscriptArchiveKMSKeyID: getEnv("TRANSCRIPT_ARCHIVE_KMS_KEY_ID", ""),
	}
}

// Validate reports configuration that the API cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DatabaseURL) == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if _, err := time.LoadLocation(c.ScheduleTimezone); err != nil {
		errs = append(errs, errors.New("SCHEDULE_TIMEZONE is not a valid IANA zone"))
	}
	if c.DefaultSessionMinutes <= 0 {
		errs = append(errs, errors.New("DEFAULT_SESSION_MINUTES must be positive"))
	}
	return errors.Join(errs...)
}

// Location returns the timezone used to interpret weekly availability.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
