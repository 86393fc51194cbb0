// Package main is the entry point for the identity HTTP API.
//
// MAIN PACKAGE:
// main stays minimal. Its job is to:
// 1. Read configuration (environment, optionally a .env file)
// 2. Create the long-lived dependencies (logger, KV store, mail sender)
// 3. Start the server
//
// All actual logic lives in imported packages (internal/server,
// internal/service, ...). The companion binary cmd/mailer consumes the
// Kafka topic this process publishes to when MAIL_DRIVER=kafka.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sakif/identity-service/internal/config"
	"github.com/sakif/identity-service/internal/mail"
	"github.com/sakif/identity-service/internal/server"
	"github.com/sakif/identity-service/internal/storage"
	"github.com/sakif/identity-service/internal/storage/redis"
	"github.com/sakif/identity-service/internal/storage/sqlite"
	"github.com/sakif/identity-service/internal/wechat"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// Load collects every invalid or missing variable, so one failed start
	// lists them all. Until the configured logger exists we log as text.
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// LOG_LEVEL picks the minimum level, LOG_FORMAT=json switches to one
	// JSON object per line for log shippers.
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	// === 3. OPEN THE KV STORE ===
	store, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open store",
			slog.String("driver", cfg.StoreDriver),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// === 4. MAIL DELIVERY ===
	sender := newSender(cfg, logger)
	if cfg.MailDriver == config.MailLog {
		logger.Warn("MAIL_DRIVER=log: verification codes are written to the log, not mailed")
	}

	// === 5. CREATE AND START THE SERVER ===
	srv, err := server.New(server.Config{
		Port:          cfg.Port,
		MaxAccounts:   cfg.MaxAccounts,
		JWTSecret:     cfg.JWTSecret,
		SessionDomain: cfg.SessionDomain,
		CookieSecure:  cfg.CookieSecure,
		WeChat: wechat.Config{
			AppID:   cfg.WxAppID,
			Secret:  cfg.WxSecret,
			BaseURL: cfg.WxBaseURL,
		},
	}, store, sender, logger)
	if err != nil {
		sender.Close()
		store.Close()
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// openStore connects the configured backend. Redis is pinged before
// returning; the SQLite directory is created if missing.
func openStore(cfg config.Config) (storage.KV, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		return sqlite.New(cfg.SQLitePath)
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return redis.New(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
}

func newSender(cfg config.Config, logger *slog.Logger) mail.Sender {
	switch cfg.MailDriver {
	case config.MailSMTP:
		return mail.NewSMTPSender(smtpConfig(cfg), logger)
	case config.MailKafka:
		return mail.NewKafkaSender(mail.KafkaConfig{
			Broker:   cfg.KafkaBroker,
			Topic:    cfg.KafkaTopic,
			Username: cfg.KafkaUsername,
			Password: cfg.KafkaPassword,
		}, logger)
	default:
		return mail.NewLogSender(logger)
	}
}

func smtpConfig(cfg config.Config) mail.SMTPConfig {
	return mail.SMTPConfig{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		From:        cfg.MailFrom,
		ProjectName: cfg.MailProjectName,
	}
}
