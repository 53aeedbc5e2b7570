package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MrEthical07/twofa"
	"github.com/MrEthical07/twofa/mail"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the service configuration read from the environment.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" env-default:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"15s"`
	TrustProxy      bool          `env:"TRUST_PROXY" env-default:"false"`
	SecureCookies   bool          `env:"SECURE_COOKIES" env-default:"true"`
	LogLevel        string        `env:"LOG_LEVEL" env-default:"info"`
	LogJSON         bool          `env:"LOG_JSON" env-default:"false"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" env-separator:","`

	RedisAddr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// DatabaseURL selects the Postgres store; empty runs on the in-memory store.
	DatabaseURL string `env:"DATABASE_URL"`

	AppName    string `env:"APP_NAME" env-default:"Task Manager"`
	TOTPIssuer string `env:"TOTP_ISSUER" env-default:"Task Manager"`
	// TrustKeyHex is the 32+ byte HS256 key for trust tokens, hex encoded.
	TrustKeyHex   string        `env:"TRUST_KEY_HEX" env-required:"true"`
	TrustTTL      time.Duration `env:"TRUST_TTL" env-default:"720h"`
	SessionSecret string        `env:"SESSION_SECRET" env-required:"true"`
	SessionTTL    time.Duration `env:"SESSION_TTL" env-default:"24h"`
	AllowEmailOTP bool          `env:"ALLOW_EMAIL_OTP_FACTOR" env-default:"true"`
	AuditLog      bool          `env:"AUDIT_LOG" env-default:"true"`

	// KafkaBrokers routes audit events to Kafka instead of the log.
	KafkaBrokers    []string `env:"KAFKA_BROKERS" env-separator:","`
	KafkaAuditTopic string   `env:"KAFKA_AUDIT_TOPIC" env-default:"twofa.audit"`

	// SMTPHost empty logs messages instead of sending them.
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" env-default:"587"`
	SMTPTLS      bool   `env:"SMTP_TLS" env-default:"false"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME" env-default:"Task Manager"`
}

// loadConfig reads envFile when present, then the process environment.
func loadConfig(envFile string) (Config, error) {
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			slog.Warn("failed to load env file", "path", envFile, "err", err)
		}
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

func (c Config) engineConfig() (twofa.Config, error) {
	key, err := hex.DecodeString(c.TrustKeyHex)
	if err != nil {
		return twofa.Config{}, fmt.Errorf("TRUST_KEY_HEX: %w", err)
	}

	cfg := twofa.DefaultConfig()
	cfg.AppName = c.AppName
	cfg.TOTP.Issuer = c.TOTPIssuer
	cfg.TrustedDevice.PrivateKey = key
	cfg.TrustedDevice.TTL = c.TrustTTL
	cfg.Challenge.AllowEmailOTP = c.AllowEmailOTP
	cfg.Audit.Enabled = c.AuditLog
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg, cfg.Validate()
}

func (c Config) smtpConfig() (mail.SMTPConfig, error) {
	if c.SMTPFrom == "" {
		return mail.SMTPConfig{}, errors.New("SMTP_FROM is required with SMTP_HOST")
	}
	return mail.SMTPConfig{
		Host:     c.SMTPHost,
		Port:     c.SMTPPort,
		TLS:      c.SMTPTLS,
		Username: c.SMTPUsername,
		Password: c.SMTPPassword,
		From:     c.SMTPFrom,
		FromName: c.SMTPFromName,
	}, nil
}

func (c Config) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
