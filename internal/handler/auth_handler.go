// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/vendsite/internal/auth"
	"github.com/hitoshi/vendsite/internal/middleware"
	"github.com/hitoshi/vendsite/internal/model"
)

const (
	oauthStateCookie = "admin_oauth_state"

	// refreshCookiePath はリフレッシュトークンCookieを送信するパス。
	// 認証エンドポイント以外には送らない。
	refreshCookiePath = "/api/admin/auth"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	AuthenticateWithCredentials(ctx context.Context, email, password string) (*model.AdminSession, error)
	AuthenticateWithGoogle(ctx context.Context, idToken string) (*model.AdminSession, error)
	HandleGoogleCallback(ctx context.Context, code string) (*model.AdminSession, error)
	GetLoginURL(state string) (string, error)
	RefreshSession(ctx context.Context, refreshToken string) (*model.AdminSession, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL      string
	CookieDomain string
	CookieSecure bool
}

// AuthHandler は管理者認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type googleLoginRequest struct {
	IDToken string `json:"id_token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// adminUserResponse は管理者情報のAPIレスポンス。
type adminUserResponse struct {
	ID          string             `json:"id"`
	Email       string             `json:"email"`
	Name        string             `json:"name"`
	Role        model.Role         `json:"role"`
	Permissions []model.Permission `json:"permissions"`
	AvatarURL   string             `json:"avatar_url,omitempty"`
	LastLoginAt *time.Time         `json:"last_login_at,omitempty"`
}

// sessionResponse はログイン・リフレッシュ成功時のAPIレスポンス。
type sessionResponse struct {
	AccessToken      string            `json:"access_token"`
	RefreshToken     string            `json:"refresh_token"`
	ExpiresAt        time.Time         `json:"expires_at"`
	RefreshExpiresAt time.Time         `json:"refresh_expires_at"`
	User             adminUserResponse `json:"user"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/admin/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.AuthenticateWithCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteAuthError(w, r, auth.ErrAuthFailed(err))
		return
	}
	if session == nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewInvalidCredentialsError())
		return
	}

	h.writeSession(w, session)
}

// GoogleLogin はフロントエンドで取得したGoogleのIDトークンでログインする。
// POST /api/admin/auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.IDToken) == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("id_token は必須です"))
		return
	}

	session, err := h.service.AuthenticateWithGoogle(r.Context(), req.IDToken)
	switch {
	case errors.Is(err, auth.ErrGoogleDisabled):
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewGoogleDisabledError())
		return
	case err != nil:
		middleware.WriteAuthError(w, r, auth.ErrAuthFailed(err))
		return
	case session == nil:
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAccountNotAllowedError())
		return
	}

	h.writeSession(w, session)
}

// GoogleRedirect はGoogle OAuthフローを開始する。
// GET /api/admin/auth/google/login
func (h *AuthHandler) GoogleRedirect(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	loginURL, err := h.service.GetLoginURL(state)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewGoogleDisabledError())
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     refreshCookiePath,
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// GoogleCallback はOAuthコールバックを処理する。
// GET /api/admin/auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.WarnContext(r.Context(), "oauth state mismatch")
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("stateが一致しません"))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	// Google側で同意が拒否された場合
	if e := r.URL.Query().Get("error"); e != "" {
		http.Redirect(w, r, h.loginPageURL(e), http.StatusTemporaryRedirect)
		return
	}

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("認可コードがありません"))
		return
	}

	// 3. 認証処理
	session, err := h.service.HandleGoogleCallback(r.Context(), code)
	switch {
	case errors.Is(err, auth.ErrGoogleDisabled):
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewGoogleDisabledError())
		return
	case err != nil:
		slog.ErrorContext(r.Context(), "oauth callback failed", slog.String("error", err.Error()))
		http.Redirect(w, r, h.loginPageURL("auth_failed"), http.StatusTemporaryRedirect)
		return
	case session == nil:
		http.Redirect(w, r, h.loginPageURL("not_allowed"), http.StatusTemporaryRedirect)
		return
	}

	// 4. セッションCookieを設定し、管理画面にリダイレクト
	h.setSessionCookies(w, session)
	http.Redirect(w, r, strings.TrimRight(h.config.BaseURL, "/")+"/admin", http.StatusTemporaryRedirect)
}

// Refresh はリフレッシュトークンから新しいセッションを発行する。
// ボディのrefresh_tokenが空の場合はCookieを使う。
// POST /api/admin/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		if c, err := r.Cookie(middleware.RefreshTokenCookieName); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		middleware.WriteAuthError(w, r, auth.ErrNoToken())
		return
	}

	session, err := h.service.RefreshSession(r.Context(), token)
	if err != nil {
		middleware.WriteAuthError(w, r, auth.ErrAuthFailed(err))
		return
	}
	if session == nil {
		h.clearSessionCookies(w)
		middleware.WriteAuthError(w, r, auth.ErrInvalidSession())
		return
	}

	h.writeSession(w, session)
}

// Logout はセッションCookieを破棄する。
// トークンはステートレスのため、サーバー側では失効させない。
// POST /api/admin/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me は認証済み管理者の情報を返す。NewAdminAuthMiddlewareの後に配置する。
// GET /api/admin/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.AdminFromContext(r.Context())
	if user == nil {
		middleware.WriteAuthError(w, r, auth.ErrInvalidSession())
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toAdminUserResponse(user))
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, session *model.AdminSession) {
	h.setSessionCookies(w, session)
	w.Header().Set("Cache-Control", "no-store")
	middleware.WriteJSON(w, http.StatusOK, sessionResponse{
		AccessToken:      session.AccessToken,
		RefreshToken:     session.RefreshToken,
		ExpiresAt:        session.ExpiresAt,
		RefreshExpiresAt: session.RefreshExpiresAt,
		User:             toAdminUserResponse(session.User),
	})
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, session *model.AdminSession) {
	http.SetCookie(w, h.sessionCookie(middleware.AccessTokenCookieName, session.AccessToken, "/", cookieMaxAge(session.ExpiresAt)))
	http.SetCookie(w, h.sessionCookie(middleware.RefreshTokenCookieName, session.RefreshToken, refreshCookiePath, cookieMaxAge(session.RefreshExpiresAt)))
}

func (h *AuthHandler) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.sessionCookie(middleware.AccessTokenCookieName, "", "/", -1))
	http.SetCookie(w, h.sessionCookie(middleware.RefreshTokenCookieName, "", refreshCookiePath, -1))
}

func (h *AuthHandler) sessionCookie(name, value, path string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *AuthHandler) loginPageURL(reason string) string {
	return strings.TrimRight(h.config.BaseURL, "/") + "/admin/login?error=" + url.QueryEscape(reason)
}

// cookieMaxAge は有効期限までの秒数を返す。期限切れの場合も1秒以上にする。
func cookieMaxAge(expiresAt time.Time) int {
	return max(int(time.Until(expiresAt).Seconds()), 1)
}

func toAdminUserResponse(user *model.AdminUser) adminUserResponse {
	perms := user.Permissions
	if perms == nil {
		perms = []model.Permission{}
	}
	return adminUserResponse{
		ID:          user.ID,
		Email:       user.Email,
		Name:        user.Name,
		Role:        user.Role,
		Permissions: perms,
		AvatarURL:   user.AvatarURL,
		LastLoginAt: user.LastLoginAt,
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
