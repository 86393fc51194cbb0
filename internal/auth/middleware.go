package auth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// CookieName is the cookie the session token travels in.
const CookieName = "access_token"

// contextKey is package-private so no other package can read or shadow the
// token stored in a request context.
type contextKey string

const tokenKey contextKey = "sessionToken"

// CarryToken is a middleware that lifts the raw session token off the
// request and into its context. It does NOT verify anything: the identity
// service decides what a missing or bad token means for each route
// (a redirect for /user/auth, a 401 for /user/info).
//
// The cookie wins; an "Authorization: Bearer <token>" header is the fallback
// for clients that cannot hold cookies (the WeChat mini-program).
func CarryToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := extractToken(r); token != "" {
			r = r.WithContext(context.WithValue(r.Context(), tokenKey, token))
		}
		next.ServeHTTP(w, r)
	})
}

// TokenFromContext returns the token CarryToken stored, or "" if the
// request carried none.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

func extractToken(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// CookieOptions controls the attributes of the session cookie.
type CookieOptions struct {
	Domain string
	Secure bool
}

// SetSessionCookie stores token in an HttpOnly cookie that lives as long
// as the token itself.
func SetSessionCookie(w http.ResponseWriter, token string, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Domain:   opts.Domain,
		MaxAge:   int(TokenTTL / time.Second),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie in the browser.
func ClearSessionCookie(w http.ResponseWriter, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   opts.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
