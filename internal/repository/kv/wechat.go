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

var _ repository.WeChatRepository = (*WeChatUsers)(nil)

// WeChatUsers stores model.WeChatUser records as wx_users:<openid> hashes
// and the reverse index as wx_user_id:<userId> strings.
type WeChatUsers struct {
	store storage.KV
}

func NewWeChatUsers(store storage.KV) *WeChatUsers {
	return &WeChatUsers{store: store}
}

var wechatKnownFields = []string{fieldOpenID, fieldSessionKey, fieldWxUserID, fieldConversationID}

func wechatFields(u *model.WeChatUser) map[string]string {
	fields := make(map[string]string, 4+len(u.Extra))
	mergeExtra(fields, u.Extra, wechatKnownFields...)
	for k, v := range map[string]string{
		fieldOpenID:         u.OpenID,
		fieldSessionKey:     u.SessionKey,
		fieldWxUserID:       u.UserID,
		fieldConversationID: u.ConversationID,
	} {
		if v != "" {
			fields[k] = v
		}
	}
	return fields
}

func (w *WeChatUsers) Create(ctx context.Context, u *model.WeChatUser) (bool, error) {
	created, err := w.store.HCreate(ctx, wechatKey(u.OpenID), wechatFields(u), 0)
	if err != nil {
		return false, fmt.Errorf("kv: creating wechat user %s: %w", u.UserID, err)
	}
	return created, nil
}

func (w *WeChatUsers) GetByOpenID(ctx context.Context, openID string) (*model.WeChatUser, error) {
	all, err := w.store.HGetAll(ctx, wechatKey(openID))
	if err != nil {
		return nil, fmt.Errorf("kv: reading wechat user: %w", err)
	}
	if all[fieldOpenID] == "" {
		return nil, apperror.NotFound("wechat user", "openid")
	}
	return &model.WeChatUser{
		OpenID:         all[fieldOpenID],
		SessionKey:     all[fieldSessionKey],
		UserID:         all[fieldWxUserID],
		ConversationID: all[fieldConversationID],
		Extra:          splitExtra(all, wechatKnownFields...),
	}, nil
}

func (w *WeChatUsers) Save(ctx context.Context, u *model.WeChatUser) error {
	if err := w.store.HSet(ctx, wechatKey(u.OpenID), wechatFields(u), 0); err != nil {
		return fmt.Errorf("kv: saving wechat user %s: %w", u.UserID, err)
	}
	return nil
}

func (w *WeChatUsers) LinkUserID(ctx context.Context, userID, openID string) error {
	if err := w.store.Set(ctx, wechatIndexKey(userID), openID, 0); err != nil {
		return fmt.Errorf("kv: indexing wechat user %s: %w", userID, err)
	}
	return nil
}

func (w *WeChatUsers) OpenIDByUserID(ctx context.Context, userID string) (string, error) {
	openID, err := w.store.Get(ctx, wechatIndexKey(userID))
	if errors.Is(err, storage.ErrNil) || (err == nil && openID == "") {
		return "", apperror.NotFound("wechat user", userID)
	}
	if err != nil {
		return "", fmt.Errorf("kv: resolving wechat user %s: %w", userID, err)
	}
	return openID, nil
}
