package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Kafka struct {
		Brokers []string
		Topic   string
		GroupID string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
		IdemTTL  time.Duration
	}
	SMS struct {
		AccountSID string
		AuthToken  string
		FromNumber string
	}
	Email struct {
		SMTPServer string
		SMTPPort   int
		Username   string
		Password   string
		FromName   string
	}
	Records struct {
		BaseURL string
	}
	API struct {
		Port     string
		BasePath string
	}
	Scheduler struct {
		PollInterval  time.Duration
		ClaimBatch    int
		MaxWorkers    int
		ActionTimeout time.Duration
		MaxAttempts   int
		BackoffBase   time.Duration
		BackoffMax    time.Duration
		StaleAfter    time.Duration
		Timezone      string
	}
	Logging struct {
		Dir   string
		Level string
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	// Kafka settings
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.Topic = os.Getenv("KAFKA_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	// Database DSN
	cfg.DB.DSN = os.Getenv("DB_DSN")

	// Redis (idempotency registry)
	cfg.Redis.Addr = os.Getenv("REDIS_ADDR")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		cfg.Redis.DB = db
	}
	cfg.Redis.IdemTTL = durationEnv("REDIS_IDEM_TTL", 7*24*time.Hour)

	// Twilio settings
	cfg.SMS.AccountSID = os.Getenv("SMS_ACCOUNT_SID")
	cfg.SMS.AuthToken = os.Getenv("SMS_AUTH_TOKEN")
	cfg.SMS.FromNumber = os.Getenv("SMS_FROM_NUMBER")

	// Email settings
	cfg.Email.SMTPServer = os.Getenv("EMAIL_SMTP_SERVER")
	if p, err := strconv.Atoi(os.Getenv("EMAIL_SMTP_PORT")); err == nil {
		cfg.Email.SMTPPort = p
	}
	cfg.Email.Username = os.Getenv("EMAIL_USERNAME")
	cfg.Email.Password = os.Getenv("EMAIL_PASSWORD")
	cfg.Email.FromName = os.Getenv("EMAIL_FROM_NAME")

	// Business records API
	cfg.Records.BaseURL = os.Getenv("RECORDS_BASE_URL")

	// API settings
	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	// Scheduler tunables
	cfg.Scheduler.PollInterval = durationEnv("SCHEDULER_POLL_INTERVAL", 5*time.Second)
	cfg.Scheduler.ClaimBatch = intEnv("SCHEDULER_CLAIM_BATCH", 50)
	cfg.Scheduler.MaxWorkers = intEnv("MAX_WORKERS", 10)
	cfg.Scheduler.ActionTimeout = durationEnv("ACTION_TIMEOUT", 15*time.Second)
	cfg.Scheduler.MaxAttempts = intEnv("MAX_ATTEMPTS", 5)
	cfg.Scheduler.BackoffBase = durationEnv("BACKOFF_BASE", 30*time.Second)
	cfg.Scheduler.BackoffMax = durationEnv("BACKOFF_MAX", 10*time.Minute)
	cfg.Scheduler.StaleAfter = durationEnv("STALE_AFTER", 5*time.Minute)
	cfg.Scheduler.Timezone = os.Getenv("SCHEDULER_TIMEZONE")

	// Logging
	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	// Validate required settings
	missing := []string{}
	if len(cfg.Kafka.Brokers) == 0 {
		missing = append(missing, "KAFKA_BROKERS")
	}
	if cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	// Apply defaults
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "business_events"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "automation-service"
	}
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v0"
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "UTC"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return cfg, nil
}

func intEnv(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}
