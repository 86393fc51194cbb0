package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
	"github.com/sakif/identity-service/internal/storage"
)

var _ repository.AccountRepository = (*Accounts)(nil)

// Accounts stores model.Account records as users:<email> hashes.
type Accounts struct {
	store storage.KV
}

func NewAccounts(store storage.KV) *Accounts {
	return &Accounts{store: store}
}

// Create writes the account with storage.KV.HCreate, so the existence check
// and the write are one atomic step: of two concurrent registrations for
// the same email exactly one gets true.
//
// Empty values are not written.
func (a *Accounts) Create(ctx context.Context, acc *model.Account) (bool, error) {
	fields := make(map[string]string, 4+len(acc.Extra))
	mergeExtra(fields, acc.Extra, fieldUsername, fieldPassword, fieldEmail, fieldUserID)
	for k, v := range map[string]string{
		fieldUsername: acc.Username,
		fieldPassword: acc.PasswordHash,
		fieldEmail:    acc.Email,
		fieldUserID:   acc.UserID,
	} {
		if v != "" {
			fields[k] = v
		}
	}

	created, err := a.store.HCreate(ctx, accountKey(acc.Email), fields, 0)
	if err != nil {
		return false, fmt.Errorf("kv: creating account %s: %w", acc.Email, err)
	}
	return created, nil
}

func (a *Accounts) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	all, err := a.store.HGetAll(ctx, accountKey(email))
	if err != nil {
		return nil, fmt.Errorf("kv: reading account %s: %w", email, err)
	}
	if all[fieldUserID] == "" {
		return nil, apperror.NotFound("account", email)
	}
	return &model.Account{
		UserID:       all[fieldUserID],
		Username:     all[fieldUsername],
		Email:        all[fieldEmail],
		PasswordHash: all[fieldPassword],
		Extra:        splitExtra(all, fieldUserID, fieldUsername, fieldEmail, fieldPassword),
	}, nil
}

func (a *Accounts) HasUsername(ctx context.Context, email string) (bool, error) {
	name, err := a.store.HGet(ctx, accountKey(email), fieldUsername)
	if errors.Is(err, storage.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv: reading username of %s: %w", email, err)
	}
	return name != "", nil
}

func (a *Accounts) Count(ctx context.Context) (int, error) {
	keys, err := a.store.ScanPrefix(ctx, accountPrefix)
	if err != nil {
		return 0, fmt.Errorf("kv: counting accounts: %w", err)
	}
	return len(keys), nil
}
