package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/identity-service/internal/auth"
	"github.com/sakif/identity-service/internal/model"
)

// IdentityService is what the user routes need from the service layer.
// *service.Identity satisfies it; tests pass a mock.
type IdentityService interface {
	CheckExistence(ctx context.Context, email string) model.ExistenceResult
	RequestCode(ctx context.Context, email string) model.CodeResult
	CheckCode(ctx context.Context, email, code string) model.CodeResult
	Register(ctx context.Context, in model.RegisterInput) model.AuthResult
	Login(ctx context.Context, email, password string) model.AuthResult
	ExternalLogin(ctx context.Context, jsCode string) (map[string]string, error)
	ExternalProfile(ctx context.Context, userID string) (map[string]string, error)
	SaveExternalProfile(ctx context.Context, userID string, patch map[string]string) (map[string]string, error)
	Logout(ctx context.Context) string
	ValidateSession(ctx context.Context, token string) (model.SessionResult, error)
	Profile(ctx context.Context, token string) (*model.Profile, error)
}

// UserHandler serves everything under /user.
//
// SESSION COOKIE:
// Register and Login set the access_token cookie on success; Logout clears
// it. Auth and Info read the token that auth.CarryToken put in the request
// context, so they work with either the cookie or a Bearer header.
type UserHandler struct {
	svc     IdentityService
	cookies auth.CookieOptions
	logger  *slog.Logger
}

func NewUserHandler(svc IdentityService, cookies auth.CookieOptions, logger *slog.Logger) *UserHandler {
	return &UserHandler{svc: svc, cookies: cookies, logger: logger}
}

// HandleExistence answers whether an account exists for an email.
//
// HTTP: POST /user/user-existence
// REQUEST BODY: {"email": "a@x.com"}
// RESPONSE: {"status": "UserExist" | "UserNotFound"}
func (h *UserHandler) HandleExistence(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if _, err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.CheckExistence(r.Context(), req.Email))
}

// HandleSendCode mails a verification code.
//
// HTTP: POST /user/send-verifyCode
// REQUEST BODY: {"email": "a@x.com"}
// RESPONSE: {"status": "Success", "time": 600} or
// {"status": "CalmingDown", "message": "...", "time": 42}
func (h *UserHandler) HandleSendCode(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if _, err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.RequestCode(r.Context(), req.Email))
}

// HandleCheckCode checks a verification code without consuming it.
//
// HTTP: POST /user/check-verifyCode
// REQUEST BODY: {"email": "a@x.com", "verifyCode": "123456"}
func (h *UserHandler) HandleCheckCode(w http.ResponseWriter, r *http.Request) {
	var req checkCodeRequest
	if _, err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.CheckCode(r.Context(), req.Email, req.VerifyCode))
}

// HandleRegister creates an account and signs it in.
//
// HTTP: POST /user/register
// REQUEST BODY: {"email", "username", "password", "verifyCode", ...any other string fields}
//
// Unknown string fields (avatar, nickname, ...) are stored on the account.
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	raw, err := decodeBody(r, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	extra, err := extraFields(raw, "email", "username", "password", "verifyCode")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	res := h.svc.Register(r.Context(), model.RegisterInput{
		Email:      req.Email,
		Username:   req.Username,
		Password:   req.Password,
		VerifyCode: req.VerifyCode,
		Extra:      extra,
	})
	h.writeAuthResult(w, res)
}

// HandleLogin signs in with email and password.
//
// HTTP: POST /user/login
// REQUEST BODY: {"email": "a@x.com", "password": "..."}
// RESPONSE: {"status": "Success", "username", "access_token", "redirect_url": "/"}
func (h *UserHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if _, err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.writeAuthResult(w, h.svc.Login(r.Context(), req.Email, req.Password))
}

func (h *UserHandler) writeAuthResult(w http.ResponseWriter, res model.AuthResult) {
	if res.Status == model.StatusSuccess && res.AccessToken != "" {
		auth.SetSessionCookie(w, res.AccessToken, h.cookies)
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleWeChatLogin signs in a mini-program user.
//
// HTTP: POST /user/wx-login
// REQUEST BODY: {"code": "<js_code from wx.login()>"}
// RESPONSE: the stored profile without openid / session_key
func (h *UserHandler) HandleWeChatLogin(w http.ResponseWriter, r *http.Request) {
	var req wxLoginRequest
	if _, err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	profile, err := h.svc.ExternalLogin(r.Context(), req.Code)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleWeChatInfo returns a mini-program profile.
//
// HTTP: GET /user/wx-info?user_id=<id>
func (h *UserHandler) HandleWeChatInfo(w http.ResponseWriter, r *http.Request) {
	req := wxProfileRequest{UserID: r.URL.Query().Get("user_id")}
	if err := validateStruct(&req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	profile, err := h.svc.ExternalProfile(r.Context(), req.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleSaveWeChatInfo merges profile fields into a mini-program profile.
//
// HTTP: POST /user/save-wx-info
// REQUEST BODY: {"user_id": "<id>", ...string fields to merge}
func (h *UserHandler) HandleSaveWeChatInfo(w http.ResponseWriter, r *http.Request) {
	var req wxProfileRequest
	raw, err := decodeBody(r, &req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	patch, err := extraFields(raw, "user_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	profile, err := h.svc.SaveExternalProfile(r.Context(), req.UserID, patch)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /user/logout
// RESPONSE: "success"
func (h *UserHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, h.cookies)
	writeJSON(w, http.StatusOK, h.svc.Logout(r.Context()))
}

// HandleAuth tells the web client whether its session is alive.
//
// HTTP: GET /user/auth
// RESPONSE: {"data": "success"}, {"redirect_url": "/sign-in"} when no token
// was sent, or 401 {"error": "token_expired" | "token_invalid"}
func (h *UserHandler) HandleAuth(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ValidateSession(r.Context(), auth.TokenFromContext(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleInfo returns the signed-in account's profile.
//
// HTTP: GET /user/info
// RESPONSE: {"username": "alice.04718233", "email": "a@x.com"}
func (h *UserHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	profile, err := h.svc.Profile(r.Context(), auth.TokenFromContext(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
