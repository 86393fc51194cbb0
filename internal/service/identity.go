package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
)

// SignInURL and HomeURL are the redirect hints handed to the web client.
const (
	SignInURL = "/sign-in"
	HomeURL   = "/"
)

// TokenVerifier checks session tokens. *auth.TokenIssuer satisfies it.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Identity is the one entry point the HTTP layer talks to. It composes the
// code manager, the registry and the WeChat linker, and adds the rules that
// span them.
type Identity struct {
	codes    *CodeManager
	registry *Registry
	wechat   *WeChatLinker
	accounts repository.AccountRepository
	tokens   TokenVerifier
	logger   *slog.Logger
}

func NewIdentity(
	codes *CodeManager,
	registry *Registry,
	wechat *WeChatLinker,
	accounts repository.AccountRepository,
	tokens TokenVerifier,
	logger *slog.Logger,
) *Identity {
	return &Identity{
		codes:    codes,
		registry: registry,
		wechat:   wechat,
		accounts: accounts,
		tokens:   tokens,
		logger:   logger,
	}
}

func (s *Identity) CheckExistence(ctx context.Context, email string) model.ExistenceResult {
	return s.registry.Exists(ctx, email)
}

func (s *Identity) RequestCode(ctx context.Context, email string) model.CodeResult {
	return s.codes.Request(ctx, email)
}

func (s *Identity) CheckCode(ctx context.Context, email, code string) model.CodeResult {
	return s.codes.Check(ctx, email, code)
}

// Register creates the account and then signs in with the same
// credentials, so the token in the answer comes from Login like every
// other session token. A failed registration is returned as is.
func (s *Identity) Register(ctx context.Context, in model.RegisterInput) model.AuthResult {
	res := s.registry.Register(ctx, in)
	if res.Status != model.StatusSuccess {
		return res
	}
	return s.Login(ctx, in.Email, in.Password)
}

// Login signs in with email and password. On success the result carries
// the home redirect hint.
func (s *Identity) Login(ctx context.Context, email, password string) model.AuthResult {
	res := s.registry.Login(ctx, email, password)
	if res.Status == model.StatusSuccess {
		res.RedirectURL = HomeURL
	}
	return res
}

func (s *Identity) ExternalLogin(ctx context.Context, jsCode string) (map[string]string, error) {
	return s.wechat.Login(ctx, jsCode)
}

func (s *Identity) ExternalProfile(ctx context.Context, userID string) (map[string]string, error) {
	return s.wechat.Profile(ctx, userID)
}

func (s *Identity) SaveExternalProfile(ctx context.Context, userID string, patch map[string]string) (map[string]string, error) {
	return s.wechat.SaveProfile(ctx, userID, patch)
}

// Logout has no server-side state to drop: tokens are stateless, and the
// transport clears the cookie.
func (s *Identity) Logout(context.Context) string {
	return "success"
}

// ValidateSession answers the web client's "am I signed in?" probe.
//
//	no token       → {redirect_url: "/sign-in"}
//	valid token    → {data: "success"}
//	expired token  → auth.ErrTokenExpired
//	anything else  → auth.ErrTokenInvalid
func (s *Identity) ValidateSession(_ context.Context, token string) (model.SessionResult, error) {
	if token == "" {
		return model.SessionResult{RedirectURL: SignInURL}, nil
	}
	if _, err := s.tokens.Verify(token); err != nil {
		return model.SessionResult{}, err
	}
	return model.SessionResult{Data: "success"}, nil
}

// Profile returns the account behind token. A verified token whose email no
// longer resolves to an account is a NotFound.
func (s *Identity) Profile(ctx context.Context, token string) (*model.Profile, error) {
	if token == "" {
		return nil, auth.ErrTokenInvalid
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	acc, err := s.accounts.GetByEmail(ctx, claims.Email)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, apperror.NotFound("user", claims.UserID)
	}
	if err != nil {
		return nil, err
	}
	return &model.Profile{Username: acc.Username, Email: acc.Email}, nil
}
