package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/rs/xid"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/metrics"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

// DefaultMaxAccounts is the registration cap when none is configured.
const DefaultMaxAccounts = 10

// CodeVerifier is the part of CodeManager registration needs.
type CodeVerifier interface {
	Check(ctx context.Context, email, code string) model.CodeResult
	Consume(ctx context.Context, email string) error
}

// TokenIssuer mints session tokens. *auth.TokenIssuer satisfies it.
type TokenIssuer interface {
	Issue(userID, email string) (string, error)
}

// PasswordHasher hashes and checks passwords. *auth.Passwords satisfies it.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Match(stored, plaintext string) (bool, error)
}

// Registry creates local accounts and logs them in.
type Registry struct {
	accounts    repository.AccountRepository
	codes       CodeVerifier
	tokens      TokenIssuer
	passwords   PasswordHasher
	maxAccounts int
	metrics     *metrics.Recorder
	logger      *slog.Logger
}

func NewRegistry(
	accounts repository.AccountRepository,
	codes CodeVerifier,
	tokens TokenIssuer,
	passwords PasswordHasher,
	maxAccounts int,
	rec *metrics.Recorder,
	logger *slog.Logger,
) *Registry {
	if maxAccounts <= 0 {
		maxAccounts = DefaultMaxAccounts
	}
	return &Registry{
		accounts:    accounts,
		codes:       codes,
		tokens:      tokens,
		passwords:   passwords,
		maxAccounts: maxAccounts,
		metrics:     rec,
		logger:      logger,
	}
}

// Exists reports UserExist when the record for email carries a username.
func (r *Registry) Exists(ctx context.Context, email string) model.ExistenceResult {
	ok, err := r.accounts.HasUsername(ctx, email)
	if err != nil {
		r.logger.Error("checking account existence", "email", email, "error", err)
		return model.ExistenceResult{Status: model.StatusFailure}
	}
	if ok {
		return model.ExistenceResult{Status: model.StatusUserExist}
	}
	return model.ExistenceResult{Status: model.StatusUserNotFound}
}

// Register creates an account.
//
// ORDER OF CHECKS:
//  1. Capacity: the store already holds maxAccounts accounts → CapacityExceeded.
//  2. Verification code: any non-Success result is returned unchanged.
//  3. Create-if-absent on users:<email>. Losing (the email exists, or a
//     concurrent registration got there first) → EmailTaken.
//
// The duplicate-email check is step 3 itself, so two concurrent
// registrations for one email can never both succeed. On success the
// verification code is consumed.
//
// The stored username gets a random 8-digit suffix ("alice" → "alice.04718233")
// so display names never collide.
func (r *Registry) Register(ctx context.Context, in model.RegisterInput) model.AuthResult {
	res := r.register(ctx, in)
	r.metrics.Registered(res.Status)
	return res
}

func (r *Registry) register(ctx context.Context, in model.RegisterInput) model.AuthResult {
	count, err := r.accounts.Count(ctx)
	if err != nil {
		r.logger.Error("counting accounts", "error", err)
		return authFailure("could not create account")
	}
	if count >= r.maxAccounts {
		return model.AuthResult{Status: model.StatusCapacityExceeded, Message: "account limit reached"}
	}

	if check := r.codes.Check(ctx, in.Email, in.VerifyCode); check.Status != model.StatusSuccess {
		return model.AuthResult{Status: check.Status, Message: check.Message}
	}

	hash, err := r.passwords.Hash(in.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return authFailure("password must be 72 bytes or fewer")
	}
	if err != nil {
		r.logger.Error("hashing password", "error", err)
		return authFailure("could not create account")
	}

	suffix, err := usernameSuffix()
	if err != nil {
		r.logger.Error("generating username suffix", "error", err)
		return authFailure("could not create account")
	}

	acc := &model.Account{
		UserID:       xid.New().String(),
		Username:     in.Username + "." + suffix,
		Email:        in.Email,
		PasswordHash: hash,
		Extra:        in.Extra,
	}

	created, err := r.accounts.Create(ctx, acc)
	if err != nil {
		r.logger.Error("creating account", "email", in.Email, "error", err)
		return authFailure("could not create account")
	}
	if !created {
		return model.AuthResult{Status: model.StatusEmailTaken, Message: "email already registered"}
	}

	token, err := r.tokens.Issue(acc.UserID, acc.Email)
	if err != nil {
		r.logger.Error("issuing token", "userID", acc.UserID, "error", err)
		return authFailure("account created, but sign-in failed")
	}

	if err := r.codes.Consume(ctx, in.Email); err != nil {
		// The account exists; a leftover code only allows a check, never a
		// second account for this email.
		r.logger.Warn("consuming verification code", "email", in.Email, "error", err)
	}

	r.logger.Info("account registered", "userID", acc.UserID, "email", acc.Email)
	return model.AuthResult{Status: model.StatusSuccess, Username: acc.Username, AccessToken: token}
}

// Login checks email and password and issues a token.
func (r *Registry) Login(ctx context.Context, email, password string) model.AuthResult {
	res := r.login(ctx, email, password)
	r.metrics.LoggedIn(res.Status)
	return res
}

func (r *Registry) login(ctx context.Context, email, password string) model.AuthResult {
	acc, err := r.accounts.GetByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		return model.AuthResult{Status: model.StatusUserNotFound}
	}
	if err != nil {
		r.logger.Error("loading account", "email", email, "error", err)
		return authFailure("could not sign in")
	}

	ok, err := r.passwords.Match(acc.PasswordHash, password)
	if err != nil {
		r.logger.Error("comparing password", "userID", acc.UserID, "error", err)
		return authFailure("could not sign in")
	}
	if !ok {
		return model.AuthResult{Status: model.StatusPasswordError}
	}

	token, err := r.tokens.Issue(acc.UserID, acc.Email)
	if err != nil {
		r.logger.Error("issuing token", "userID", acc.UserID, "error", err)
		return authFailure("could not sign in")
	}
	return model.AuthResult{Status: model.StatusSuccess, Username: acc.Username, AccessToken: token}
}

// usernameSuffix returns 8 random digits, zero-padded.
func usernameSuffix() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100_000_000))
	if err != nil {
		return "", fmt.Errorf("service: generating suffix: %w", err)
	}
	return fmt.Sprintf("%08d", n.Int64()), nil
}

func authFailure(msg string) model.AuthResult {
	return model.AuthResult{Status: model.StatusFailure, Message: msg}
}
