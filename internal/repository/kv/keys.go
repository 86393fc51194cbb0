// Package kv implements the repository interfaces on top of storage.KV.
//
// KEY LAYOUT (shared with every other client of the same store, so it must
// not change):
//
//	users:<email>           hash {username, password, email, userId, ...extra}
//	verifyCode:<email>      hash {createAt, verifyCode, email}       TTL 600s
//	wx_users:<openid>       hash {openid, session_key, user_id, conversation_id, ...extra}
//	wx_user_id:<userId>     string openid
//
// Every value is a string. Timestamps are "2006-01-02 15:04:05" in UTC.
package kv

const (
	accountPrefix    = "users:"
	codePrefix       = "verifyCode:"
	wechatUserPrefix = "wx_users:"
	wechatIndex      = "wx_user_id:"
)

// Hash field names.
const (
	fieldUsername = "username"
	fieldPassword = "password"
	fieldEmail    = "email"
	fieldUserID   = "userId"

	fieldCreateAt   = "createAt"
	fieldVerifyCode = "verifyCode"

	fieldOpenID         = "openid"
	fieldSessionKey     = "session_key"
	fieldWxUserID       = "user_id"
	fieldConversationID = "conversation_id"
)

// createAtLayout matches the "yyyy-MM-dd HH:mm:ss" format already stored.
const createAtLayout = "2006-01-02 15:04:05"

func accountKey(email string) string  { return accountPrefix + email }
func codeKey(email string) string     { return codePrefix + email }
func wechatKey(openID string) string  { return wechatUserPrefix + openID }
func wechatIndexKey(id string) string { return wechatIndex + id }

// mergeExtra copies extra into fields without letting it overwrite a field
// the record owns (a client must not smuggle in its own "password").
func mergeExtra(fields, extra map[string]string, reserved ...string) {
	skip := make(map[string]struct{}, len(reserved))
	for _, r := range reserved {
		skip[r] = struct{}{}
	}
	for k, v := range extra {
		if _, ok := skip[k]; ok || v == "" {
			continue
		}
		fields[k] = v
	}
}

// splitExtra returns the fields of a stored hash that are not in known.
func splitExtra(all map[string]string, known ...string) map[string]string {
	skip := make(map[string]struct{}, len(known))
	for _, k := range known {
		skip[k] = struct{}{}
	}
	var extra map[string]string
	for k, v := range all {
		if _, ok := skip[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]string)
		}
		extra[k] = v
	}
	return extra
}
