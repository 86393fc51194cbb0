package model

// WeChatUser links a WeChat mini-program openid to a local profile.
//
// OpenID and SessionKey come from the jscode2session exchange and are
// internal only: anything leaving the service goes through Public(), which
// drops them. UserID and ConversationID are assigned locally on first login.
type WeChatUser struct {
	OpenID         string
	SessionKey     string
	UserID         string
	ConversationID string
	Extra          map[string]string
}

// Public returns the fields safe to hand to a client as a flat map, the
// same shape the profile is stored in minus openid and session_key.
func (u *WeChatUser) Public() map[string]string {
	out := make(map[string]string, len(u.Extra)+2)
	for k, v := range u.Extra {
		out[k] = v
	}
	out["user_id"] = u.UserID
	out["conversation_id"] = u.ConversationID
	return out
}
