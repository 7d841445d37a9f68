package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// Mail transport
	// ----------------------------
	MailTransport string `envconfig:"MAIL_TRANSPORT" default:"resend"`
	MailFrom      string `envconfig:"MAIL_FROM" default:"Forward Focus Elevation <support@forward-focus-elevation.org>"`

	ResendAPIKey string `envconfig:"RESEND_API_KEY" default:""`

	PostmarkServerToken  string `envconfig:"POSTMARK_SERVER_TOKEN" default:""`
	PostmarkAccountToken string `envconfig:"POSTMARK_ACCOUNT_TOKEN" default:""`

	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`

	// ----------------------------
	// Queue processing
	// ----------------------------
	BatchSize        int           `envconfig:"BATCH_SIZE" default:"50"`
	SendsPerSecond   float64       `envconfig:"SENDS_PER_SECOND" default:"10"`
	ScheduleInterval time.Duration `envconfig:"SCHEDULE_INTERVAL" default:"0s"`

	// ----------------------------
	// Trigger auth
	// ----------------------------
	CronSecretToken string `envconfig:"CRON_SECRET_TOKEN" required:"true"`

	// ----------------------------
	// Run lock (optional)
	// ----------------------------
	RedisURL   string        `envconfig:"REDIS_URL" default:""`
	RunLockTTL time.Duration `envconfig:"RUN_LOCK_TTL" default:"2m"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort string `envconfig:"API_PORT" default:"8080"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL    string `envconfig:"DATABASE_URL" required:"true"`
	MigrateOnStart bool   `envconfig:"MIGRATE_ON_START" default:"true"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Database holds the settings needed by tools that only touch the queue
// tables.
type Database struct {
	DatabaseURL    string `envconfig:"DATABASE_URL" required:"true"`
	MigrateOnStart bool   `envconfig:"MIGRATE_ON_START" default:"true"`
}

func LoadDatabase() (*Database, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Database
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL must not be empty")
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL must not be empty")
	}
	if c.CronSecretToken == "" {
		return errors.New("CRON_SECRET_TOKEN must not be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.SendsPerSecond <= 0 {
		return fmt.Errorf("SENDS_PER_SECOND must be positive, got %v", c.SendsPerSecond)
	}
	if c.ScheduleInterval < 0 {
		return errors.New("SCHEDULE_INTERVAL must not be negative")
	}

	switch c.MailTransport {
	case "resend":
		if c.ResendAPIKey == "" {
			return errors.New("RESEND_API_KEY is required for the resend transport")
		}
	case "postmark":
		if c.PostmarkServerToken == "" {
			return errors.New("POSTMARK_SERVER_TOKEN is required for the postmark transport")
		}
	case "smtp":
	default:
		return fmt.Errorf("unknown MAIL_TRANSPORT %q", c.MailTransport)
	}

	return nil
}
