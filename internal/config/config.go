// Package config reads process configuration from the environment.
//
// Both binaries (cmd/server, cmd/mailer) call Load once at start-up and
// exit on error; nothing else in the module reads environment variables.
//
// .env FILES:
// Outside ENV=prod, a .env file in the working directory is loaded first.
// Variables already set in the real environment win over the file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Mail drivers.
const (
	MailSMTP  = "smtp"
	MailKafka = "kafka"
	MailLog   = "log"
)

type Config struct {
	Port      int
	Env       string
	LogLevel  slog.Level
	LogFormat string // "text" or "json"

	JWTSecret     string
	SessionDomain string
	CookieSecure  bool

	StoreDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MaxAccounts   int

	MailDriver      string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	MailFrom        string
	MailProjectName string

	KafkaBroker   string
	KafkaTopic    string
	KafkaGroupID  string
	KafkaUsername string
	KafkaPassword string

	WxAppID   string
	WxSecret  string
	WxBaseURL string
}

// LoadDotEnv loads .env unless env is "prod". A missing file is not an
// error.
func LoadDotEnv(env string) error {
	if env == "prod" {
		return nil
	}
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: loading .env: %w", err)
	}
	return nil
}

// Load reads and validates the API configuration. It collects every
// problem instead of stopping at the first, so one run shows them all.
func Load() (Config, error) {
	return load(true)
}

// LoadWorker is Load for cmd/mailer, which never signs tokens and so does
// not need JWT_SECRET.
func LoadWorker() (Config, error) {
	return load(false)
}

func load(needSecret bool) (Config, error) {
	if err := LoadDotEnv(os.Getenv("ENV")); err != nil {
		return Config{}, err
	}

	var errs []error
	c := Config{
		Env:       envString("ENV", "dev"),
		LogFormat: strings.ToLower(envString("LOG_FORMAT", "text")),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		SessionDomain: envString("SESSION_DOMAIN", ""),

		StoreDriver:   strings.ToLower(envString("STORE_DRIVER", StoreRedis)),
		RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		SQLitePath:    envString("SQLITE_PATH", "data/identity.db"),

		MailDriver:      strings.ToLower(envString("MAIL_DRIVER", MailLog)),
		SMTPHost:        envString("SMTP_HOST", ""),
		SMTPUsername:    os.Getenv("SMTP_USERNAME"),
		SMTPPassword:    os.Getenv("SMTP_PASSWORD"),
		MailFrom:        envString("MAIL_FROM", ""),
		MailProjectName: envString("MAIL_PROJECT_NAME", "Identity"),

		KafkaBroker:   envString("KAFKA_BROKER", "localhost:9092"),
		KafkaTopic:    envString("KAFKA_TOPIC", "identity.verify-code"),
		KafkaGroupID:  envString("KAFKA_GROUP_ID", "identity-mailer"),
		KafkaUsername: os.Getenv("KAFKA_USERNAME"),
		KafkaPassword: os.Getenv("KAFKA_PASSWORD"),

		WxAppID:   os.Getenv("WX_APPID"),
		WxSecret:  os.Getenv("WX_SECRET"),
		WxBaseURL: envString("WX_BASE_URL", "https://api.weixin.qq.com"),
	}

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	c.Port, err = envInt("PORT", 8080)
	collect(err)
	c.RedisDB, err = envInt("REDIS_DB", 0)
	collect(err)
	c.MaxAccounts, err = envInt("MAX_ACCOUNTS", 10)
	collect(err)
	c.SMTPPort, err = envInt("SMTP_PORT", 587)
	collect(err)
	c.CookieSecure, err = envBool("COOKIE_SECURE", c.Env == "prod")
	collect(err)
	c.LogLevel, err = parseLevel(envString("LOG_LEVEL", "info"))
	collect(err)

	collect(c.validate(needSecret))
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return c, nil
}

func (c Config) validate(needSecret bool) error {
	var errs []error
	if needSecret && len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("config: JWT_SECRET must be at least 16 characters"))
	}
	switch c.StoreDriver {
	case StoreRedis, StoreSQLite:
	default:
		errs = append(errs, fmt.Errorf("config: STORE_DRIVER %q must be redis or sqlite", c.StoreDriver))
	}
	switch c.MailDriver {
	case MailSMTP:
		if c.SMTPHost == "" || c.MailFrom == "" {
			errs = append(errs, errors.New("config: MAIL_DRIVER=smtp needs SMTP_HOST and MAIL_FROM"))
		}
	case MailKafka, MailLog:
	default:
		errs = append(errs, fmt.Errorf("config: MAIL_DRIVER %q must be smtp, kafka or log", c.MailDriver))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("config: LOG_FORMAT %q must be text or json", c.LogFormat))
	}
	if c.MaxAccounts <= 0 {
		errs = append(errs, errors.New("config: MAX_ACCOUNTS must be positive"))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger: text by default, JSON when
// LOG_FORMAT=json.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// envInt returns def when key is unset and an error when it is set but
// not an integer, so a typo never silently falls back to the default.
func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", key, v)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s=%q is not a boolean", key, v)
	}
	return b, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL %q must be debug, info, warn or error", s)
	}
	return l, nil
}
