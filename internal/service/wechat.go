package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/metrics"
	"github.com/sakif/identity-service/internal/model"
	"github.com/sakif/identity-service/internal/repository"
	"github.com/sakif/identity-service/internal/wechat"
)

// SessionExchanger trades a mini-program js_code for a WeChat session.
// *wechat.Client satisfies it.
type SessionExchanger interface {
	Exchange(ctx context.Context, jsCode string) (*wechat.Session, error)
}

// WeChatLinker maps WeChat openids to local profiles.
//
// Every method returns the profile through model.WeChatUser.Public, so the
// openid and session_key never leave this type.
type WeChatLinker struct {
	users    repository.WeChatRepository
	exchange SessionExchanger
	metrics  *metrics.Recorder
	logger   *slog.Logger
}

func NewWeChatLinker(users repository.WeChatRepository, exchange SessionExchanger, rec *metrics.Recorder, logger *slog.Logger) *WeChatLinker {
	return &WeChatLinker{users: users, exchange: exchange, metrics: rec, logger: logger}
}

// Login exchanges jsCode and returns the profile for the resulting openid,
// creating it on first sight.
//
// IDEMPOTENCE:
// The record is created with create-if-absent. If another login for the
// same openid created it first, the stored record is re-read and returned,
// so concurrent first logins all see the same user_id.
//
// The reverse index is rewritten on every login. The write is idempotent
// and repairs an index lost between Create and LinkUserID.
func (l *WeChatLinker) Login(ctx context.Context, jsCode string) (map[string]string, error) {
	user, err := l.login(ctx, jsCode)
	l.metrics.WeChatLogin(err)
	if err != nil {
		return nil, err
	}
	return user.Public(), nil
}

func (l *WeChatLinker) login(ctx context.Context, jsCode string) (*model.WeChatUser, error) {
	sess, err := l.exchange.Exchange(ctx, jsCode)
	if err != nil {
		l.logger.Warn("wechat exchange failed", "error", err)
		return nil, err
	}

	user, err := l.users.GetByOpenID(ctx, sess.OpenID)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		user, err = l.create(ctx, sess)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("service/wechat: loading user: %w", err)
	}

	if err := l.users.LinkUserID(ctx, user.UserID, user.OpenID); err != nil {
		return nil, fmt.Errorf("service/wechat: linking user %s: %w", user.UserID, err)
	}
	return user, nil
}

func (l *WeChatLinker) create(ctx context.Context, sess *wechat.Session) (*model.WeChatUser, error) {
	user := &model.WeChatUser{
		OpenID:         sess.OpenID,
		SessionKey:     sess.SessionKey,
		UserID:         xid.New().String(),
		ConversationID: uuid.NewString(),
	}
	if sess.UnionID != "" {
		user.Extra = map[string]string{"unionid": sess.UnionID}
	}

	created, err := l.users.Create(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("service/wechat: creating user: %w", err)
	}
	if !created {
		existing, err := l.users.GetByOpenID(ctx, sess.OpenID)
		if err != nil {
			return nil, fmt.Errorf("service/wechat: reloading user: %w", err)
		}
		return existing, nil
	}

	l.logger.Info("wechat user created", "userID", user.UserID)
	return user, nil
}

// Profile returns the profile linked to a local user id.
func (l *WeChatLinker) Profile(ctx context.Context, userID string) (map[string]string, error) {
	user, err := l.byUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return user.Public(), nil
}

// SaveProfile merges patch onto the stored profile; patch wins on
// collision. Empty values are ignored, and openid, session_key and user_id
// cannot be changed this way.
func (l *WeChatLinker) SaveProfile(ctx context.Context, userID string, patch map[string]string) (map[string]string, error) {
	user, err := l.byUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	for k, v := range patch {
		if v == "" {
			continue
		}
		switch k {
		case "openid", "session_key", "user_id":
		case "conversation_id":
			user.ConversationID = v
		default:
			if user.Extra == nil {
				user.Extra = make(map[string]string, len(patch))
			}
			user.Extra[k] = v
		}
	}

	if err := l.users.Save(ctx, user); err != nil {
		return nil, fmt.Errorf("service/wechat: saving user %s: %w", userID, err)
	}
	return user.Public(), nil
}

func (l *WeChatLinker) byUserID(ctx context.Context, userID string) (*model.WeChatUser, error) {
	openID, err := l.users.OpenIDByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return l.users.GetByOpenID(ctx, openID)
}
