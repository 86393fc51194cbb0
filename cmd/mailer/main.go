// Package main is the mail worker.
//
// When the API runs with MAIL_DRIVER=kafka it only publishes verification
// code events. This process consumes them from KAFKA_TOPIC as consumer
// group KAFKA_GROUP_ID and delivers each one over SMTP.
//
// DELIVERY:
// Offsets are committed after one delivery attempt, successful or not. A
// code is only useful for ten minutes and the user can ask for another
// after one, so redelivering a failed message later helps no one.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sakif/identity-service/internal/config"
	"github.com/sakif/identity-service/internal/mail"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := cfg.NewLogger(os.Stdout).With(slog.String("component", "mailer"))

	if cfg.SMTPHost == "" || cfg.MailFrom == "" {
		logger.Error("the mailer needs SMTP_HOST and MAIL_FROM")
		os.Exit(1)
	}

	sender := mail.NewSMTPSender(mail.SMTPConfig{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUsername,
		Password:    cfg.SMTPPassword,
		From:        cfg.MailFrom,
		ProjectName: cfg.MailProjectName,
	}, logger)

	consumer := mail.NewConsumer(mail.KafkaConfig{
		Broker:   cfg.KafkaBroker,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		Username: cfg.KafkaUsername,
		Password: cfg.KafkaPassword,
	}, sender, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("mailer starting",
		slog.String("broker", cfg.KafkaBroker),
		slog.String("topic", cfg.KafkaTopic),
		slog.String("group", cfg.KafkaGroupID),
	)

	runErr := consumer.Run(ctx)
	if err := consumer.Close(); err != nil {
		logger.Warn("closing consumer", slog.String("error", err.Error()))
	}
	if runErr != nil {
		logger.Error("mailer stopped", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("mailer stopped")
}
