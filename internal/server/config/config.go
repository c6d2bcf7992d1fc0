package config

import (
	"os"
	"strings"
	"time"
)

// Config holds server configuration read from the environment.
type Config struct {
	Host string
	Port string

	DatabaseURL string

	FirebaseCredentialsPath string
	FirebaseDatabaseURL     string

	JWTSecret     string
	JWTExpiration time.Duration

	ResendAPIKey  string
	FromEmail     string
	PublicURL     string
	SkipEmailSend bool

	PlatformAdminEmails []string

	// StreamOrigins are host patterns allowed to open cross-origin websockets.
	StreamOrigins []string

	WatchPollInterval time.Duration
	OutboxInterval    time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		Host:                    getEnv("API_HOST", "0.0.0.0"),
		Port:                    getEnv("API_PORT", "8080"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		FirebaseCredentialsPath: os.Getenv("FIREBASE_CREDENTIALS_PATH"),
		FirebaseDatabaseURL:     os.Getenv("FIREBASE_DATABASE_URL"),
		JWTSecret:               os.Getenv("JWT_SECRET"),
		JWTExpiration:           getDuration("JWT_EXPIRATION", 168*time.Hour),
		ResendAPIKey:            os.Getenv("RESEND_API_KEY"),
		FromEmail:               getEnv("FROM_EMAIL", "noreply@musa.estate"),
		PublicURL:               strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:3000"), "/"),
		SkipEmailSend:           os.Getenv("SKIP_EMAIL_SEND") == "true",
		PlatformAdminEmails:     splitList(os.Getenv("PLATFORM_ADMIN_EMAILS")),
		StreamOrigins:           splitList(os.Getenv("STREAM_ORIGINS")),
		WatchPollInterval:       getDuration("WATCH_POLL_INTERVAL", 2*time.Second),
		OutboxInterval:          getDuration("OUTBOX_INTERVAL", time.Second),
	}
}

// FirebaseEnabled reports whether Firebase credentials were provided.
func (c *Config) FirebaseEnabled() bool {
	return c.FirebaseCredentialsPath != ""
}

// IsPlatformAdmin reports whether email is listed in PLATFORM_ADMIN_EMAILS.
func (c *Config) IsPlatformAdmin(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, e := range c.PlatformAdminEmails {
		if e == email {
			return true
		}
	}
	return false
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
