// Package service holds the identity business logic.
//
// LAYERS:
//
//	handler (HTTP) → Identity (orchestrator) → CodeManager / Registry / WeChatLinker
//	                                          → repository (KV store)
//	                                          → auth (tokens, passwords), mail, wechat
//
// RESULTS, NOT ERRORS:
// Operations with a Status (requestCode, register, login, ...) never return a
// Go error. Business-rule outcomes and collaborator failures (store down,
// mail relay down) all come back as a model.Status inside the result, and a
// Failure carries a human-readable message. Only session-token failures and
// the WeChat operations return errors, which the handler layer maps to HTTP
// status codes.
package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/metrics"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

const (
	// CodeCooldown is the minimum gap between two codes for one email.
	CodeCooldown = 60 * time.Second
	// CodeValidity is how long a code is accepted and how long it is stored.
	CodeValidity = 600 * time.Second
)

// CodeSender delivers a verification code. mail.Sender satisfies it.
type CodeSender interface {
	SendVerifyCode(ctx context.Context, to, code string) error
}

// CodeManager issues and checks email verification codes.
//
// RATE LIMIT:
// One code per email per 60 seconds. Elapsed time is whole seconds since
// the stored createAt. A createAt in the future (clock skew between
// replicas) gives a negative elapsed time and does NOT block a new code.
//
// EXPIRY:
// The store evicts codes after 600s, but eviction may be lazy, so Check also
// compares createAt against the clock. Both paths end in Failure.
type CodeManager struct {
	codes   repository.CodeRepository
	sender  CodeSender
	metrics *metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

func NewCodeManager(
	codes repository.CodeRepository,
	sender CodeSender,
	rec *metrics.Recorder,
	logger *slog.Logger,
	now func() time.Time,
) *CodeManager {
	if now == nil {
		now = time.Now
	}
	return &CodeManager{codes: codes, sender: sender, metrics: rec, logger: logger, now: now}
}

// Request sends a fresh code to email unless one was sent in the last
// minute. The code is stored only after the sender accepted it, so a failed
// send never locks the user out for 60s.
func (m *CodeManager) Request(ctx context.Context, email string) model.CodeResult {
	res := m.request(ctx, email)
	m.metrics.CodeRequested(res.Status)
	return res
}

func (m *CodeManager) request(ctx context.Context, email string) model.CodeResult {
	now := m.now()

	prev, err := m.codes.Get(ctx, email)
	switch {
	case err == nil:
		elapsed := wholeSeconds(now.Sub(prev.CreatedAt))
		if elapsed >= 0 && elapsed < int(CodeCooldown/time.Second) {
			wait := int(CodeCooldown/time.Second) - elapsed
			return model.CodeResult{
				Status:  model.StatusCalmingDown,
				Message: fmt.Sprintf("please try again in %d seconds", wait),
				Time:    wait,
			}
		}
	case errors.Is(err, apperror.ErrNotFound):
	default:
		m.logger.Error("reading verification code", "email", email, "error", err)
		return failure("could not send verification code")
	}

	code, err := generateCode()
	if err != nil {
		m.logger.Error("generating verification code", "error", err)
		return failure("could not send verification code")
	}

	if err := m.sender.SendVerifyCode(ctx, email, code); err != nil {
		m.logger.Error("sending verification code", "email", email, "error", err)
		return failure("could not send verification code")
	}

	err = m.codes.Save(ctx, &model.VerificationCode{Email: email, Code: code, CreatedAt: now}, CodeValidity)
	if err != nil {
		m.logger.Error("saving verification code", "email", email, "error", err)
		return failure("could not send verification code")
	}

	m.logger.Info("verification code sent", "email", email)
	return model.CodeResult{Status: model.StatusSuccess, Time: int(CodeValidity / time.Second)}
}

// Check compares code with the stored one. It does not consume the code:
// checking twice gives the same answer.
func (m *CodeManager) Check(ctx context.Context, email, code string) model.CodeResult {
	res := m.check(ctx, email, code)
	m.metrics.CodeChecked(res.Status)
	return res
}

func (m *CodeManager) check(ctx context.Context, email, code string) model.CodeResult {
	stored, err := m.codes.Get(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return failure("verification code not found")
	}
	if err != nil {
		m.logger.Error("reading verification code", "email", email, "error", err)
		return failure("could not check verification code")
	}

	if m.now().Sub(stored.CreatedAt) > CodeValidity {
		return failure("verification code expired")
	}

	if subtle.ConstantTimeCompare([]byte(stored.Code), []byte(code)) != 1 {
		return model.CodeResult{Status: model.StatusVerifyCodeError, Message: "wrong verification code"}
	}
	return model.CodeResult{Status: model.StatusSuccess}
}

// Consume deletes the code for email. Registration calls it once the
// account exists so the same code cannot register twice.
func (m *CodeManager) Consume(ctx context.Context, email string) error {
	return m.codes.Delete(ctx, email)
}

// generateCode returns a uniformly random 6-digit code, zero-padded.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("service: generating code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// wholeSeconds truncates toward negative infinity, so 59.9s is 59 and
// -0.5s is -1.
func wholeSeconds(d time.Duration) int {
	s := d / time.Second
	if d < 0 && d%time.Second != 0 {
		s--
	}
	return int(s)
}

func failure(msg string) model.CodeResult {
	return model.CodeResult{Status: model.StatusFailure, Message: msg}
}
