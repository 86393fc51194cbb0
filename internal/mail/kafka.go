package mail

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
)

// KafkaConfig locates the verification-code topic.
type KafkaConfig struct {
	Broker   string
	Topic    string
	GroupID  string // consumer side only
	Username string // SASL/PLAIN over TLS when set
	Password string
}

// messageWriter is the part of *kafka.Writer KafkaSender uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes a VerifyCodeEvent instead of sending mail itself.
// The code is only "sent" once the broker has acknowledged the event on all
// replicas, so a Success from requestCode means the event is durable.
type KafkaSender struct {
	writer messageWriter
	now    func() time.Time
	logger *slog.Logger
}

func NewKafkaSender(cfg KafkaConfig, logger *slog.Logger) *KafkaSender {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Broker),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
	if cfg.Username != "" {
		w.Transport = &kafka.Transport{
			SASL: plain.Mechanism{Username: cfg.Username, Password: cfg.Password},
			TLS:  &tls.Config{},
		}
	}
	return &KafkaSender{writer: w, now: time.Now, logger: logger}
}

// SendVerifyCode keys the message by email so every code for one address
// lands on the same partition, in order.
func (s *KafkaSender) SendVerifyCode(ctx context.Context, to, code string) error {
	value, err := json.Marshal(newEvent(to, code, s.now()))
	if err != nil {
		return fmt.Errorf("mail: encoding event: %w", err)
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(to),
		Value: value,
		Time:  s.now(),
	})
	if err != nil {
		return fmt.Errorf("mail: publishing event for %s: %w", to, err)
	}
	s.logger.Debug("verification event published", "to", to)
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}

// messageReader is the part of *kafka.Reader Consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads VerifyCodeEvents and delivers each through a Sender.
//
// DELIVERY IS AT MOST ONCE:
// A message is committed after one delivery attempt whether or not it
// succeeded. A code that fails to send is not retried: the user asks for a
// new one after the 60s cool-down, and a stale retry would only arrive
// after the code it carries has been replaced.
type Consumer struct {
	reader messageReader
	sender Sender
	logger *slog.Logger
}

func NewConsumer(cfg KafkaConfig, sender Sender, logger *slog.Logger) *Consumer {
	rc := kafka.ReaderConfig{
		Brokers:  []string{cfg.Broker},
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if cfg.Username != "" {
		rc.Dialer = &kafka.Dialer{
			Timeout:       10 * time.Second,
			DualStack:     true,
			TLS:           &tls.Config{},
			SASLMechanism: plain.Mechanism{Username: cfg.Username, Password: cfg.Password},
		}
	}
	return &Consumer{reader: kafka.NewReader(rc), sender: sender, logger: logger}
}

// Run consumes until ctx is cancelled, then returns nil. Any other read or
// commit failure stops the loop and is returned.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("mail: fetching message: %w", err)
		}

		c.handle(ctx, msg)

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("mail: committing offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var event VerifyCodeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.Email == "" || event.Code == "" {
		c.logger.Error("dropping invalid event", "offset", msg.Offset, "error", err)
		return
	}

	if err := c.sender.SendVerifyCode(ctx, event.Email, event.Code); err != nil {
		c.logger.Error("delivering verification code", "to", event.Email, "error", err)
		return
	}
	c.logger.Info("verification code delivered", "to", event.Email)
}

// Close closes the reader, leaving the consumer group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
