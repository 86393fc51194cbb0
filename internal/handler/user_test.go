package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/identity-service/internal/apperror"
	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/handler"
	"github.com/sakif/identity-service/internal/model"
)

// MockIdentity records the last call and returns canned results.
type MockIdentity struct {
	CapturedEmail    string
	CapturedCode     string
	CapturedRegister model.RegisterInput
	CapturedUserID   string
	CapturedPatch    map[string]string
	CapturedToken    string

	Existence     model.ExistenceResult
	Code          model.CodeResult
	Auth          model.AuthResult
	WeChat        map[string]string
	Session       model.SessionResult
	ProfileResult *model.Profile
	Err           error
}

func (m *MockIdentity) CheckExistence(_ context.Context, email string) model.ExistenceResult {
	m.CapturedEmail = email
	return m.Existence
}

func (m *MockIdentity) RequestCode(_ context.Context, email string) model.CodeResult {
	m.CapturedEmail = email
	return m.Code
}

func (m *MockIdentity) CheckCode(_ context.Context, email, code string) model.CodeResult {
	m.CapturedEmail, m.CapturedCode = email, code
	return m.Code
}

func (m *MockIdentity) Register(_ context.Context, in model.RegisterInput) model.AuthResult {
	m.CapturedRegister = in
	return m.Auth
}

func (m *MockIdentity) Login(_ context.Context, email, _ string) model.AuthResult {
	m.CapturedEmail = email
	return m.Auth
}

func (m *MockIdentity) ExternalLogin(_ context.Context, jsCode string) (map[string]string, error) {
	m.CapturedCode = jsCode
	return m.WeChat, m.Err
}

func (m *MockIdentity) ExternalProfile(_ context.Context, userID string) (map[string]string, error) {
	m.CapturedUserID = userID
	return m.WeChat, m.Err
}

func (m *MockIdentity) SaveExternalProfile(_ context.Context, userID string, patch map[string]string) (map[string]string, error) {
	m.CapturedUserID, m.CapturedPatch = userID, patch
	return m.WeChat, m.Err
}

func (m *MockIdentity) Logout(context.Context) string { return "success" }

func (m *MockIdentity) ValidateSession(_ context.Context, token string) (model.SessionResult, error) {
	m.CapturedToken = token
	return m.Session, m.Err
}

func (m *MockIdentity) Profile(_ context.Context, token string) (*model.Profile, error) {
	m.CapturedToken = token
	return m.ProfileResult, m.Err
}

func newHandler(m *MockIdentity) *handler.UserHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return handler.NewUserHandler(m, auth.CookieOptions{Domain: "example.com"}, logger)
}

func post(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) handler.ErrorResponse {
	t.Helper()
	var e handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&e))
	return e
}

// =========================================================================
// VERIFICATION CODE ROUTES
// =========================================================================

func TestHandleSendCode(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		m := &MockIdentity{Code: model.CodeResult{Status: model.StatusSuccess, Time: 600}}
		rr := httptest.NewRecorder()

		newHandler(m).HandleSendCode(rr, post(`{"email":"a@x.com"}`))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"Success","time":600}`, rr.Body.String())
		assert.Equal(t, "a@x.com", m.CapturedEmail)
	})

	t.Run("calming down is still 200", func(t *testing.T) {
		m := &MockIdentity{Code: model.CodeResult{Status: model.StatusCalmingDown, Message: "wait", Time: 59}}
		rr := httptest.NewRecorder()

		newHandler(m).HandleSendCode(rr, post(`{"email":"a@x.com"}`))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"CalmingDown","message":"wait","time":59}`, rr.Body.String())
	})

	t.Run("invalid email", func(t *testing.T) {
		m := &MockIdentity{}
		rr := httptest.NewRecorder()

		newHandler(m).HandleSendCode(rr, post(`{"email":"not-an-email"}`))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		e := decodeError(t, rr)
		assert.Equal(t, "validation_error", e.Error)
		assert.Equal(t, "email", e.Field)
		assert.Empty(t, m.CapturedEmail, "service must not be called")
	})

	t.Run("malformed JSON", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newHandler(&MockIdentity{}).HandleSendCode(rr, post(`{"email":`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestHandleCheckCode(t *testing.T) {
	m := &MockIdentity{Code: model.CodeResult{Status: model.StatusVerifyCodeError, Message: "wrong verification code"}}
	rr := httptest.NewRecorder()

	newHandler(m).HandleCheckCode(rr, post(`{"email":"a@x.com","verifyCode":"000000"}`))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "000000", m.CapturedCode)
	assert.Contains(t, rr.Body.String(), `"VerifyCodeError"`)

	rr = httptest.NewRecorder()
	newHandler(m).HandleCheckCode(rr, post(`{"email":"a@x.com","verifyCode":"12ab56"}`))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "verifyCode", decodeError(t, rr).Field)
}

func TestHandleExistence(t *testing.T) {
	m := &MockIdentity{Existence: model.ExistenceResult{Status: model.StatusUserExist}}
	rr := httptest.NewRecorder()

	newHandler(m).HandleExistence(rr, post(`{"email":"a@x.com"}`))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"UserExist"}`, rr.Body.String())
}

// =========================================================================
// REGISTER / LOGIN ROUTES
// =========================================================================

func TestHandleRegister(t *testing.T) {
	t.Run("success sets cookie and keeps extra fields", func(t *testing.T) {
		m := &MockIdentity{Auth: model.AuthResult{
			Status: model.StatusSuccess, Username: "alice.00000001", AccessToken: "tok", RedirectURL: "/",
		}}
		rr := httptest.NewRecorder()

		body := `{"email":"a@x.com","username":"alice","password":"s3cret-pass","verifyCode":"123456","avatar":"pic.png"}`
		newHandler(m).HandleRegister(rr, post(body))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, map[string]string{"avatar": "pic.png"}, m.CapturedRegister.Extra)
		assert.Equal(t, "123456", m.CapturedRegister.VerifyCode)

		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, auth.CookieName, cookies[0].Name)
		assert.Equal(t, "tok", cookies[0].Value)
		assert.Equal(t, "example.com", cookies[0].Domain)

		var res map[string]string
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, "/", res["redirect_url"])
		assert.Equal(t, "tok", res["access_token"])
	})

	t.Run("business failure sets no cookie", func(t *testing.T) {
		m := &MockIdentity{Auth: model.AuthResult{Status: model.StatusEmailTaken}}
		rr := httptest.NewRecorder()

		newHandler(m).HandleRegister(rr, post(`{"email":"a@x.com","username":"alice","password":"s3cret-pass","verifyCode":"123456"}`))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, rr.Result().Cookies())
		assert.JSONEq(t, `{"status":"EmailTaken"}`, rr.Body.String())
	})

	t.Run("non-string extra field rejected", func(t *testing.T) {
		m := &MockIdentity{}
		rr := httptest.NewRecorder()

		newHandler(m).HandleRegister(rr, post(`{"email":"a@x.com","username":"alice","password":"s3cret-pass","verifyCode":"123456","age":30}`))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "age", decodeError(t, rr).Field)
		assert.Empty(t, m.CapturedRegister.Email)
	})

	t.Run("missing password", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newHandler(&MockIdentity{}).HandleRegister(rr, post(`{"email":"a@x.com","username":"alice","verifyCode":"123456"}`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "password", decodeError(t, rr).Field)
	})
}

func TestHandleLogin(t *testing.T) {
	tests := []struct {
		name       string
		result     model.AuthResult
		wantCookie bool
	}{
		{"success", model.AuthResult{Status: model.StatusSuccess, AccessToken: "tok", RedirectURL: "/"}, true},
		{"wrong password", model.AuthResult{Status: model.StatusPasswordError}, false},
		{"unknown user", model.AuthResult{Status: model.StatusUserNotFound}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &MockIdentity{Auth: tt.result}
			rr := httptest.NewRecorder()

			newHandler(m).HandleLogin(rr, post(`{"email":"a@x.com","password":"pw"}`))

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, tt.wantCookie, len(rr.Result().Cookies()) == 1)
			assert.Contains(t, rr.Body.String(), string(tt.result.Status))
		})
	}
}

func TestHandleLogout(t *testing.T) {
	rr := httptest.NewRecorder()
	newHandler(&MockIdentity{}).HandleLogout(rr, post(``))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, `"success"`, strings.TrimSpace(rr.Body.String()))
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Less(t, cookies[0].MaxAge, 0)
}

// =========================================================================
// SESSION ROUTES
// =========================================================================

func TestHandleAuth(t *testing.T) {
	t.Run("token from cookie reaches the service", func(t *testing.T) {
		m := &MockIdentity{Session: model.SessionResult{Data: "success"}}
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/user/auth", nil)
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "tok"})

		auth.CarryToken(http.HandlerFunc(newHandler(m).HandleAuth)).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "tok", m.CapturedToken)
		assert.JSONEq(t, `{"data":"success"}`, rr.Body.String())
	})

	t.Run("no token redirects", func(t *testing.T) {
		m := &MockIdentity{Session: model.SessionResult{RedirectURL: "/sign-in"}}
		rr := httptest.NewRecorder()

		auth.CarryToken(http.HandlerFunc(newHandler(m).HandleAuth)).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/user/auth", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Empty(t, m.CapturedToken)
		assert.JSONEq(t, `{"redirect_url":"/sign-in"}`, rr.Body.String())
	})

	t.Run("expired token is 401", func(t *testing.T) {
		m := &MockIdentity{Err: auth.ErrTokenExpired}
		rr := httptest.NewRecorder()

		newHandler(m).HandleAuth(rr, httptest.NewRequest(http.MethodGet, "/user/auth", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "token_expired", decodeError(t, rr).Error)
	})
}

func TestHandleInfo(t *testing.T) {
	t.Run("profile", func(t *testing.T) {
		m := &MockIdentity{ProfileResult: &model.Profile{Username: "alice.1", Email: "a@x.com"}}
		rr := httptest.NewRecorder()

		newHandler(m).HandleInfo(rr, httptest.NewRequest(http.MethodGet, "/user/info", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"username":"alice.1","email":"a@x.com"}`, rr.Body.String())
	})

	t.Run("invalid token is 401", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newHandler(&MockIdentity{Err: auth.ErrTokenInvalid}).HandleInfo(rr, httptest.NewRequest(http.MethodGet, "/user/info", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, "token_invalid", decodeError(t, rr).Error)
	})

	t.Run("account gone is 404", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newHandler(&MockIdentity{Err: apperror.NotFound("user", "u1")}).HandleInfo(rr, httptest.NewRequest(http.MethodGet, "/user/info", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("unknown error is 500 without details", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newHandler(&MockIdentity{Err: errors.New("redis: connection refused")}).HandleInfo(rr, httptest.NewRequest(http.MethodGet, "/user/info", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "redis")
	})
}

// =========================================================================
// WECHAT ROUTES
// =========================================================================

func TestHandleWeChatLogin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		m := &MockIdentity{WeChat: map[string]string{"user_id": "u1", "conversation_id": "c1"}}
		rr := httptest.NewRecorder()

		newHandler(m).HandleWeChatLogin(rr, post(`{"code":"js-code"}`))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "js-code", m.CapturedCode)
		assert.JSONEq(t, `{"user_id":"u1","conversation_id":"c1"}`, rr.Body.String())
	})

	t.Run("exchange failed is 502", func(t *testing.T) {
		m := &MockIdentity{Err: apperror.Upstream("wechat", "invalid code")}
		rr := httptest.NewRecorder()

		newHandler(m).HandleWeChatLogin(rr, post(`{"code":"bad"}`))

		assert.Equal(t, http.StatusBadGateway, rr.Code)
		e := decodeError(t, rr)
		assert.Equal(t, "upstream_error", e.Error)
		assert.Equal(t, "wechat: invalid code", e.Message)
	})
}

func TestHandleWeChatInfo(t *testing.T) {
	m := &MockIdentity{WeChat: map[string]string{"user_id": "u1"}}
	rr := httptest.NewRecorder()

	newHandler(m).HandleWeChatInfo(rr, httptest.NewRequest(http.MethodGet, "/user/wx-info?user_id=u1", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "u1", m.CapturedUserID)

	rr = httptest.NewRecorder()
	newHandler(m).HandleWeChatInfo(rr, httptest.NewRequest(http.MethodGet, "/user/wx-info", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "user_id", decodeError(t, rr).Field)
}

func TestHandleSaveWeChatInfo(t *testing.T) {
	m := &MockIdentity{WeChat: map[string]string{"user_id": "u1", "nickname": "Zed"}}
	rr := httptest.NewRecorder()

	newHandler(m).HandleSaveWeChatInfo(rr, post(`{"user_id":"u1","nickname":"Zed"}`))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "u1", m.CapturedUserID)
	assert.Equal(t, map[string]string{"nickname": "Zed"}, m.CapturedPatch)

	m.Err = apperror.NotFound("wechat user", "ghost")
	rr = httptest.NewRecorder()
	newHandler(m).HandleSaveWeChatInfo(rr, post(`{"user_id":"ghost","nickname":"Zed"}`))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// =========================================================================
// HEALTH
// =========================================================================

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHandleHealth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rr := httptest.NewRecorder()
	handler.NewHealthHandler(fakePinger{}, logger).HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.NewHealthHandler(fakePinger{err: errors.New("down")}, logger).HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
