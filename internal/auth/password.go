package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrPasswordTooLong is returned by Hash for input bcrypt would truncate.
var ErrPasswordTooLong = errors.New("auth: password must be 72 bytes or fewer")

// defaultCost is the bcrypt work factor, roughly 250ms per hash.
const defaultCost = 12

// Passwords hashes account passwords with bcrypt and checks login attempts.
//
// LEGACY RECORDS:
// Accounts written before hashing was introduced hold the plaintext in the
// "password" field. Match still accepts those (compared in constant time)
// so existing users can log in; anything starting with "$2" is treated as
// a bcrypt hash.
type Passwords struct {
	cost int
}

// NewPasswords returns a hasher with the default cost.
func NewPasswords() *Passwords {
	return &Passwords{cost: defaultCost}
}

// NewPasswordsWithCost lets tests in other packages use bcrypt.MinCost (4)
// instead of paying ~250ms per hash. Never use a low cost in production.
func NewPasswordsWithCost(cost int) *Passwords {
	return &Passwords{cost: cost}
}

// Hash returns the bcrypt hash to store under the "password" field.
func (p *Passwords) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		return "", ErrPasswordTooLong
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Match reports whether plaintext matches the stored value. A mismatch is
// (false, nil); an error means the stored hash itself is unusable.
func (p *Passwords) Match(stored, plaintext string) (bool, error) {
	if !strings.HasPrefix(stored, "$2") {
		return subtle.ConstantTimeCompare([]byte(stored), []byte(plaintext)) == 1, nil
	}

	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("auth: comparing password hash: %w", err)
	}
}
