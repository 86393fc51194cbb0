// Package wechat talks to the WeChat mini-program login endpoint.
//
// HOW MINI-PROGRAM LOGIN WORKS:
//  1. The mini-program calls wx.login() and gets a short-lived js_code.
//  2. It sends js_code to us (/user/wx-login).
//  3. We call jscode2session with our appid + secret + js_code.
//  4. WeChat answers with the user's openid (stable per app) and a
//     session_key, or with errcode/errmsg.
//
// This is not an OAuth2 token endpoint (it is a GET, and there is no
// access_token in the answer), so it is a plain net/http call.
package wechat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sakif/identity-service/internal/apperror"
)

// DefaultBaseURL is the public WeChat API host.
const DefaultBaseURL = "https://api.weixin.qq.com"

// fallbackMessage is reported when WeChat omits errmsg.
const fallbackMessage = "wechat login failed"

// Session is a successful jscode2session answer.
type Session struct {
	OpenID     string
	SessionKey string
	UnionID    string // only present when the app is bound to an open platform account
}

// Config holds the mini-program credentials.
type Config struct {
	AppID   string
	Secret  string
	BaseURL string // defaults to DefaultBaseURL; tests point it at httptest
	Timeout time.Duration
}

// Client exchanges js_codes for sessions.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient builds a Client. The underlying http.Client is owned by the
// returned value; Close releases its idle connections.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type sessionResponse struct {
	OpenID     string `json:"openid"`
	SessionKey string `json:"session_key"`
	UnionID    string `json:"unionid"`
	ErrCode    int    `json:"errcode"`
	ErrMsg     string `json:"errmsg"`
}

// Exchange trades a js_code for a Session.
//
// Any answer without an openid is a failure, reported as
// apperror.ErrUpstream carrying WeChat's errmsg verbatim. Transport errors
// are wrapped and returned as is.
func (c *Client) Exchange(ctx context.Context, jsCode string) (*Session, error) {
	q := url.Values{}
	q.Set("appid", c.cfg.AppID)
	q.Set("secret", c.cfg.Secret)
	q.Set("js_code", jsCode)
	q.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/sns/jscode2session?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("wechat: building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wechat: calling jscode2session: %w", err)
	}
	defer resp.Body.Close()

	// WeChat serves JSON as text/plain, so the content type is not checked.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("wechat: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperror.Upstream("wechat", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	var sr sessionResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, apperror.Upstream("wechat", "malformed response")
	}
	if sr.OpenID == "" {
		msg := sr.ErrMsg
		if msg == "" {
			msg = fallbackMessage
		}
		return nil, apperror.Upstream("wechat", msg)
	}

	return &Session{OpenID: sr.OpenID, SessionKey: sr.SessionKey, UnionID: sr.UnionID}, nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
