package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig is the relay the verification email goes through.
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string // empty disables AUTH
	Password    string
	From        string
	ProjectName string
	Timeout     time.Duration // dial + session deadline, default 15s
}

// SMTPSender sends the rendered email over one SMTP session per code.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMTPSender{cfg: cfg, logger: logger}
}

func (s *SMTPSender) SendVerifyCode(ctx context.Context, to, code string) error {
	msg, err := Render(s.cfg.ProjectName, code)
	if err != nil {
		return err
	}

	raw := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + to,
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
		"",
		msg.HTML,
	}, "\r\n")

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.logger.Debug("sending verification email", "to", to, "via", addr)

	if err := s.send(ctx, addr, to, []byte(raw)); err != nil {
		return fmt.Errorf("mail: smtp send to %s: %w", to, err)
	}
	return nil
}

// send runs one SMTP session. A deadline on the raw connection bounds the
// whole exchange, since net/smtp itself has no timeouts.
func (s *SMTPSender) send(ctx context.Context, addr, to string, msg []byte) error {
	dialer := net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return err
		}
	}
	if s.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return err
		}
	}

	if err := c.Mail(s.cfg.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// Close is a no-op: every send opens and closes its own session.
func (s *SMTPSender) Close() error { return nil }
