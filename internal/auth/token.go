// Package auth issues and verifies session tokens, hashes passwords, and
// carries the session cookie through HTTP middleware.
//
// SESSION TOKEN:
// A session is an HS256-signed JWT. Nothing about it is stored server-side;
// the signature and the exp claim are the whole story. The payload is:
//
//	{"email":"a@x.com","userId":"cv1...","domain":"example.com","salt":"9f3a...","exp":...,"iat":...}
//
// salt is random per token, so two logins in the same second still produce
// different tokens. domain is the cookie domain the token was minted for.
//
// Tokens live 24 hours from issue. There is no refresh or revocation: logout
// only clears the cookie.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/identity-service/internal/apperror"
)

// TokenTTL is the absolute lifetime of a session token.
const TokenTTL = 24 * time.Hour

// Verification failures. Both unwrap to apperror.ErrUnauthorized, and the
// HTTP layer reports their Code ("token_expired" / "token_invalid").
var (
	ErrTokenExpired = apperror.Unauthorized("token_expired", "session token has expired")
	ErrTokenInvalid = apperror.Unauthorized("token_invalid", "session token is invalid")
)

// Claims is the verified payload of a session token.
type Claims struct {
	Email  string `json:"email"`
	UserID string `json:"userId"`
	Domain string `json:"domain"`
	Salt   string `json:"salt"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies session tokens with one process-wide secret.
type TokenIssuer struct {
	secret []byte
	domain string
	now    func() time.Time
}

// TokenOption customizes a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithTokenClock replaces time.Now for both issuing and verifying. Tests use
// it to check the 24h boundary without sleeping.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(t *TokenIssuer) { t.now = now }
}

// NewTokenIssuer creates a TokenIssuer. domain is written into every token.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenIssuer(secret, domain string, opts ...TokenOption) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	t := &TokenIssuer{secret: []byte(secret), domain: domain, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue mints a token for the given account.
func (t *TokenIssuer) Issue(userID, email string) (string, error) {
	salt, err := randomSalt()
	if err != nil {
		return "", err
	}

	now := t.now()
	c := Claims{
		Email:  email,
		UserID: userID,
		Domain: t.domain,
		Salt:   salt,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenStr and checks its signature and expiry.
//
// It returns ErrTokenExpired once exp has passed and ErrTokenInvalid for
// everything else: bad encoding, wrong signature, an algorithm other than
// HS256 (the "alg: none" trick), a missing exp, or a payload without email.
func (t *TokenIssuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || c.Email == "" {
		return nil, ErrTokenInvalid
	}
	return c, nil
}

func randomSalt() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: generating salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}
