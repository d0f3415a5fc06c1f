// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/reminder.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// --------------------------------------------------------------------------
// Table names, matching the Supabase schema
// --------------------------------------------------------------------------

const (
	ProfilesTable      = "profiles"
	DevicesTable       = "user_devices"
	TransactionsTable  = "transactions"
	NotificationsTable = "notifications"
)

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string `validate:"required"`
	DBPoolMinConns int    `validate:"gte=0"`
	DBPoolMaxConns int    `validate:"gte=1,gtefield=DBPoolMinConns"`
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int    `validate:"gte=1,lte=65535"`
	Environment string `validate:"oneof=development staging production"`
	LogLevel    string `validate:"oneof=debug info warn error"`

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int `validate:"gte=1"`
	RateLimitWindow   time.Duration

	// Trigger endpoint bearer token; empty leaves the route open.
	TriggerToken string

	// Push provider
	FCMCredentialsFile string
	FCMEndpoint        string  `validate:"omitempty,url"`
	FCMSendRate        float64 `validate:"gte=0"` // requests per second, 0 = unlimited
	FCMRequestTimeout  time.Duration

	// Reminder run
	Reminder ReminderConfig
}

// ReminderConfig controls the daily reminder pipeline.
type ReminderConfig struct {
	UTCOffsetHours  int    `validate:"gte=-12,lte=14"`
	ZoneLabel       string `validate:"required"`
	FallbackName    string `validate:"required"`
	DispatchWorkers int    `validate:"gte=1,lte=64"`
	RunTimeout      time.Duration

	// In-process triggers
	ScheduleEnabled bool
	ListenChannel   string

	// Opt-in guard against a second run for the same minute in one process.
	DedupEnabled bool
}

var validate = validator.New()

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    envOr("SUPABASE_DB_URL", envOr("DATABASE_URL", "")),
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 1),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 5),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		LogLevel:    strings.ToLower(envOr("LOG_LEVEL", "info")),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{"*"}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		TriggerToken: envOr("TRIGGER_TOKEN", ""),

		FCMCredentialsFile: envOr("FIREBASE_CREDENTIALS_FILE", envOr("GOOGLE_APPLICATION_CREDENTIALS", "")),
		FCMEndpoint:        envOr("FCM_ENDPOINT", ""),
		FCMSendRate:        envFloat("FCM_SEND_RATE", 0),
		FCMRequestTimeout:  envDuration("FCM_REQUEST_TIMEOUT", 10*time.Second),

		Reminder: reminderFromEnv(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("SUPABASE_DB_URL or DATABASE_URL must be set")
	}
	if err := validate.Struct(c); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	if ve, ok := err.(validator.ValidationErrors); ok {
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return fmt.Errorf("invalid configuration: %w", err)
}

// LoadReminder reads only the reminder section. It needs no database
// settings, for commands that never connect.
func LoadReminder() (ReminderConfig, error) {
	rc := reminderFromEnv()
	if err := validate.Struct(rc); err != nil {
		return ReminderConfig{}, validationError(err)
	}
	return rc, nil
}

func reminderFromEnv() ReminderConfig {
	return ReminderConfig{
		UTCOffsetHours:  envInt("REMINDER_UTC_OFFSET_HOURS", 7),
		ZoneLabel:       envOr("REMINDER_ZONE_LABEL", "WIB"),
		FallbackName:    envOr("REMINDER_FALLBACK_NAME", "Bestie"),
		DispatchWorkers: envInt("DISPATCH_WORKERS", 1),
		RunTimeout:      envDuration("REMINDER_RUN_TIMEOUT", 55*time.Second),
		ScheduleEnabled: envBool("REMINDER_SCHEDULE_ENABLED", false),
		ListenChannel:   envOr("REMINDER_LISTEN_CHANNEL", ""),
		DedupEnabled:    envBool("REMINDER_DEDUP_ENABLED", false),
	}
}

// UTCOffset returns the fixed local offset as a duration.
func (r ReminderConfig) UTCOffset() time.Duration {
	return time.Duration(r.UTCOffsetHours) * time.Hour
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go duration strings ("30s") or bare seconds ("30").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
