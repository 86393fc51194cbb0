// Package repository declares the persistence interfaces the services use.
//
// Services depend on these interfaces, never on a concrete store, so tests
// can run the same service code against an in-memory SQLite store and
// production against Redis.
package repository

import (
	"context"
	"time"

	"github.com/sakif/identity-service/internal/model"
)

// AccountRepository stores local accounts keyed by email.
type AccountRepository interface {
	// Create persists a new account only if no record exists for its email.
	// It reports false (and writes nothing) when the email is taken.
	Create(ctx context.Context, acc *model.Account) (bool, error)
	// GetByEmail returns apperror.ErrNotFound if the record has no user id.
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	// HasUsername reports whether the record for email carries a username.
	HasUsername(ctx context.Context, email string) (bool, error)
	// Count returns the number of stored accounts.
	Count(ctx context.Context) (int, error)
}

// CodeRepository stores the single live verification code per email.
type CodeRepository interface {
	// Save overwrites any previous code for the email and resets its TTL.
	Save(ctx context.Context, code *model.VerificationCode, ttl time.Duration) error
	// Get returns apperror.ErrNotFound when no code is stored (or it was evicted).
	Get(ctx context.Context, email string) (*model.VerificationCode, error)
	Delete(ctx context.Context, email string) error
}

// WeChatRepository stores WeChat identities keyed by openid, plus the
// reverse index local user id → openid.
type WeChatRepository interface {
	// Create persists u only if no record exists for its openid.
	Create(ctx context.Context, u *model.WeChatUser) (bool, error)
	// GetByOpenID returns apperror.ErrNotFound for an unknown openid.
	GetByOpenID(ctx context.Context, openID string) (*model.WeChatUser, error)
	// Save merges u's fields onto the stored record.
	Save(ctx context.Context, u *model.WeChatUser) error
	LinkUserID(ctx context.Context, userID, openID string) error
	// OpenIDByUserID returns apperror.ErrNotFound if the index is absent.
	OpenIDByUserID(ctx context.Context, userID string) (string, error)
}
