// Package mail delivers verification codes.
//
// Three Senders exist, picked by MAIL_DRIVER:
//
//	smtp  → SMTPSender sends the message directly
//	kafka → KafkaSender publishes a VerifyCodeEvent; cmd/mailer consumes it
//	        and hands it to an SMTPSender
//	log   → LogSender writes the code to the log (local development)
//
// Every Sender is constructed explicitly, injected into the service, and
// closed by whoever built it.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"
)

// Sender delivers one verification code to one address.
type Sender interface {
	SendVerifyCode(ctx context.Context, to, code string) error
	Close() error
}

// VerifyCodeEvent is the Kafka payload between KafkaSender and Consumer.
type VerifyCodeEvent struct {
	Email     string `json:"email"`
	Code      string `json:"code"`
	CreatedAt string `json:"created_at"` // RFC 3339
}

func newEvent(to, code string, now time.Time) VerifyCodeEvent {
	return VerifyCodeEvent{Email: to, Code: code, CreatedAt: now.UTC().Format(time.RFC3339)}
}

var bodyTemplate = template.Must(template.New("verify-code").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif">
  <p>Your {{.ProjectName}} verification code is:</p>
  <p style="font-size: 24px; letter-spacing: 4px"><strong>{{.Code}}</strong></p>
  <p>It is valid for 10 minutes. If you did not request it, ignore this email.</p>
</body>
</html>`))

// Message is a rendered verification email.
type Message struct {
	Subject string
	HTML    string
}

// Render builds the verification email for code. html/template escapes
// projectName, which comes from configuration.
func Render(projectName, code string) (Message, error) {
	var buf bytes.Buffer
	err := bodyTemplate.Execute(&buf, struct{ ProjectName, Code string }{projectName, code})
	if err != nil {
		return Message{}, fmt.Errorf("mail: rendering template: %w", err)
	}
	return Message{
		Subject: fmt.Sprintf("%s verification code", projectName),
		HTML:    buf.String(),
	}, nil
}
