package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	Environment string

	// Redis
	RedisURL string

	// Session
	SessionSecret  string
	SessionTTL     time.Duration
	SweepInterval  time.Duration
	CredentialTTL  time.Duration

	// IMAP/POP3 auto-configuration
	IMAPUsername string
	IMAPPassword string
	IMAPHost     string
	IMAPPort     string
	SMTPHost     string
	SMTPPort     string
	IMAPUseSSL   bool

	// Token broker auto-configuration
	BrokerURL            string
	BrokerAuthToken      string
	BrokerInstallationID string
	BrokerToolID         string

	// Operation limits
	MaxRecipients      int
	MaxPageSize        int
	ProviderTimeoutSec int

	// Rate limiting
	RateLimitPerMin int

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Redis
		RedisURL: getEnv("REDIS_URL", ""),

		// Session
		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionTTL:    time.Duration(getEnvInt("SESSION_TTL_HOUR", 24)) * time.Hour,
		SweepInterval: time.Duration(getEnvInt("SESSION_SWEEP_INTERVAL_MIN", 5)) * time.Minute,
		CredentialTTL: time.Duration(getEnvInt("CREDENTIAL_TTL_HOUR", 24)) * time.Hour,

		// IMAP/POP3
		IMAPUsername: getEnv("IMAP_USERNAME", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnv("IMAP_PORT", "993"),
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		IMAPUseSSL:   getEnvBool("IMAP_USE_SSL", true),

		// Token broker
		BrokerURL:            getEnv("BROKER_URL", ""),
		BrokerAuthToken:      getEnv("BROKER_AUTH_TOKEN", ""),
		BrokerInstallationID: getEnv("BROKER_INSTALLATION_ID", ""),
		BrokerToolID:         getEnv("BROKER_TOOL_ID", ""),

		// Operation limits
		MaxRecipients:      getEnvInt("MAX_RECIPIENTS", 100),
		MaxPageSize:        getEnvInt("MAX_PAGE_SIZE", 100),
		ProviderTimeoutSec: getEnvInt("PROVIDER_TIMEOUT_SEC", 30),

		// Rate limiting
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MIN", 120),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
	}, nil
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
