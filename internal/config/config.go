// Package config loads process configuration from the environment, after
// an optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Rewards bounds the points and coins a single task may pay out, and the
// size of one manual adjustment.
type Rewards struct {
	MaxPoints int
	MaxCoins  int
	MaxAdjust int
}

type S3 struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
	// Passphrase encrypts archived objects when set.
	Passphrase string
}

// Enabled reports whether enough is set to reach a bucket.
func (s S3) Enabled() bool {
	return s.Bucket != "" && s.AccessKey != "" && s.SecretKey != ""
}

type Config struct {
	Environment     string
	Port            string
	DBPath          string
	LogLevel        string
	LogFormat       string
	TokenSecret     string
	// RegistrationKey is the shared secret a trusted front-end presents
	// to register guardians. Empty disables the check in development.
	RegistrationKey string
	TokenTTL        time.Duration
	AllowedOrigins  []string
	Rewards         Rewards
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	VAPIDSubject    string
	// ReminderAfter is how long a submitted task waits before guardians
	// get a push reminder. Zero disables reminders.
	ReminderAfter time.Duration
	// ArchiveInterval is how often the ledger is copied to S3. Zero
	// disables the background archiver.
	ArchiveInterval time.Duration
	S3              S3
}

// Load reads configuration from environment variables with defaults. A
// missing .env file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	ttl, err := time.ParseDuration(getEnv("FAMHABIT_TOKEN_TTL", "720h"))
	if err != nil {
		return nil, fmt.Errorf("parse FAMHABIT_TOKEN_TTL: %w", err)
	}
	reminderAfter, err := time.ParseDuration(getEnv("FAMHABIT_REMINDER_AFTER", "24h"))
	if err != nil {
		return nil, fmt.Errorf("parse FAMHABIT_REMINDER_AFTER: %w", err)
	}
	archiveInterval, err := time.ParseDuration(getEnv("FAMHABIT_ARCHIVE_INTERVAL", "24h"))
	if err != nil {
		return nil, fmt.Errorf("parse FAMHABIT_ARCHIVE_INTERVAL: %w", err)
	}
	maxPoints, err := getEnvInt("FAMHABIT_MAX_TASK_POINTS", 100)
	if err != nil {
		return nil, err
	}
	maxCoins, err := getEnvInt("FAMHABIT_MAX_TASK_COINS", 100)
	if err != nil {
		return nil, err
	}
	maxAdjust, err := getEnvInt("FAMHABIT_MAX_ADJUST", 1000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment:     getEnv("FAMHABIT_ENV", "development"),
		Port:            getEnv("FAMHABIT_PORT", "8080"),
		DBPath:          getEnv("FAMHABIT_DB_PATH", "famhabit.db"),
		LogLevel:        getEnv("FAMHABIT_LOG_LEVEL", "info"),
		LogFormat:       getEnv("FAMHABIT_LOG_FORMAT", "text"),
		TokenSecret:     os.Getenv("FAMHABIT_TOKEN_SECRET"),
		RegistrationKey: os.Getenv("FAMHABIT_REGISTRATION_KEY"),
		TokenTTL:        ttl,
		AllowedOrigins:  splitList(os.Getenv("FAMHABIT_ALLOWED_ORIGINS")),
		Rewards:         Rewards{MaxPoints: maxPoints, MaxCoins: maxCoins, MaxAdjust: maxAdjust},
		VAPIDPublicKey:  os.Getenv("FAMHABIT_VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("FAMHABIT_VAPID_PRIVATE_KEY"),
		VAPIDSubject:    getEnv("FAMHABIT_VAPID_SUBJECT", "mailto:noreply@famhabit.app"),
		ReminderAfter:   reminderAfter,
		ArchiveInterval: archiveInterval,
		S3: S3{
			Endpoint:   os.Getenv("FAMHABIT_S3_ENDPOINT"),
			Bucket:     os.Getenv("FAMHABIT_S3_BUCKET"),
			Region:     getEnv("FAMHABIT_S3_REGION", "us-east-1"),
			AccessKey:  os.Getenv("FAMHABIT_S3_ACCESS_KEY"),
			SecretKey:  os.Getenv("FAMHABIT_S3_SECRET_KEY"),
			Prefix:     getEnv("FAMHABIT_S3_PREFIX", "ledger/"),
			Passphrase: os.Getenv("FAMHABIT_ARCHIVE_PASSPHRASE"),
		},
	}

	// Development gets a fixed secret so tokens survive restarts.
	if cfg.TokenSecret == "" && cfg.IsDevelopment() {
		cfg.TokenSecret = "famhabit-dev-secret-change-me"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("database path is required")
	}
	if len(c.TokenSecret) < 16 {
		return errors.New("FAMHABIT_TOKEN_SECRET must be at least 16 characters")
	}
	if c.RegistrationKey == "" && !c.IsDevelopment() {
		return errors.New("FAMHABIT_REGISTRATION_KEY is required outside development")
	}
	if c.TokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if c.Rewards.MaxPoints < 0 || c.Rewards.MaxCoins < 0 || c.Rewards.MaxAdjust < 0 {
		return errors.New("reward bounds must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if c.ReminderAfter < 0 {
		return errors.New("reminder delay must not be negative")
	}
	if c.ArchiveInterval < 0 {
		return errors.New("archive interval must not be negative")
	}
	if (c.VAPIDPublicKey == "") != (c.VAPIDPrivateKey == "") {
		return errors.New("both VAPID keys must be set together")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
