package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
	"github.com/sakif/identity-service/internal/storage"
)

var _ repository.CodeRepository = (*Codes)(nil)

// Codes stores verification codes as verifyCode:<email> hashes.
type Codes struct {
	store storage.KV
}

func NewCodes(store storage.KV) *Codes {
	return &Codes{store: store}
}

// Save overwrites all three fields and resets the TTL in one store call.
func (c *Codes) Save(ctx context.Context, code *model.VerificationCode, ttl time.Duration) error {
	err := c.store.HSet(ctx, codeKey(code.Email), map[string]string{
		fieldCreateAt:   code.CreatedAt.UTC().Format(createAtLayout),
		fieldVerifyCode: code.Code,
		fieldEmail:      code.Email,
	}, ttl)
	if err != nil {
		return fmt.Errorf("kv: saving code for %s: %w", code.Email, err)
	}
	return nil
}

// Get returns the stored code. An unparsable createAt yields a zero
// CreatedAt, which every caller treats as long expired.
func (c *Codes) Get(ctx context.Context, email string) (*model.VerificationCode, error) {
	all, err := c.store.HGetAll(ctx, codeKey(email))
	if err != nil {
		return nil, fmt.Errorf("kv: reading code for %s: %w", email, err)
	}
	if all[fieldVerifyCode] == "" {
		return nil, apperror.NotFound("verification code", email)
	}

	createdAt, err := time.ParseInLocation(createAtLayout, all[fieldCreateAt], time.UTC)
	if err != nil {
		createdAt = time.Time{}
	}

	return &model.VerificationCode{
		Email:     email,
		Code:      all[fieldVerifyCode],
		CreatedAt: createdAt,
	}, nil
}

func (c *Codes) Delete(ctx context.Context, email string) error {
	if err := c.store.Del(ctx, codeKey(email)); err != nil {
		return fmt.Errorf("kv: deleting code for %s: %w", email, err)
	}
	return nil
}
