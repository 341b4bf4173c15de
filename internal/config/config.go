package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config keeps runtime settings for the reminder service.
type Config struct {
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT" env-default:"text"`
	LogFile   string `yaml:"log_file" env:"LOG_FILE"`

	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL" env-default:"task_reminder.db"`
	HTTPAddress string `yaml:"http_address" env:"HTTP_ADDRESS" env-default:":8080"`
	Environment string `yaml:"environment" env:"APP_ENV" env-default:"development"`
	Timezone    string `yaml:"timezone" env:"APP_TIMEZONE" env-default:"Asia/Tokyo"`

	TelegramToken string `yaml:"telegram_token" env:"TELEGRAM_TOKEN"`
	DigestTime    string `yaml:"digest_time" env:"DIGEST_TIME" env-default:"08:00"`

	CronEnabled         bool          `yaml:"cron_enabled" env:"CRON_ENABLED" env-default:"true"`
	CronSecret          string        `yaml:"cron_secret" env:"CRON_SECRET"`
	DispatchTimeout     time.Duration `yaml:"dispatch_timeout" env:"DISPATCH_TIMEOUT" env-default:"50s"`
	DispatchConcurrency int           `yaml:"dispatch_concurrency" env:"DISPATCH_CONCURRENCY" env-default:"8"`

	ResendAPIKey string `yaml:"resend_api_key" env:"RESEND_API_KEY"`
	ResendFrom   string `yaml:"resend_from" env:"RESEND_FROM" env-default:"さくっとタスク <noreply@sakutto-task.com>"`

	VAPIDPublicKey  string `yaml:"vapid_public_key" env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `yaml:"vapid_private_key" env:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string `yaml:"vapid_subject" env:"VAPID_SUBJECT" env-default:"mailto:support@sakutto-task.com"`

	RedisURL string        `yaml:"redis_url" env:"REDIS_URL"`
	DedupTTL time.Duration `yaml:"dedup_ttl" env:"DEDUP_TTL" env-default:"10m"`
}

// Load reads configuration from an optional YAML file and the environment.
// A .env file in the working directory is loaded first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return cfg, fmt.Errorf("read env: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		var pe *os.PathError
		if !errors.As(err, &pe) {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		// missing file: env only
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return cfg, fmt.Errorf("read env: %w", err)
		}
	}

	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	cfg.DigestTime = strings.TrimSpace(cfg.DigestTime)
	if cfg.DigestTime != "" {
		if _, err := time.Parse("15:04", cfg.DigestTime); err != nil {
			return cfg, fmt.Errorf("invalid DIGEST_TIME %q, expected HH:MM", cfg.DigestTime)
		}
	}
	if cfg.DispatchConcurrency <= 0 {
		cfg.DispatchConcurrency = 1
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return cfg, fmt.Errorf("invalid APP_TIMEZONE %q: %w", cfg.Timezone, err)
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Location returns the zone that turns wall-clock time into calendar dates.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
