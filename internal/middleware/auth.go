// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/vendsite/internal/auth"
	"github.com/hitoshi/vendsite/internal/model"
)

const (
	// AccessTokenCookieName はアクセストークンを保持するHttpOnly Cookieの名前。
	AccessTokenCookieName = "admin_token"
	// RefreshTokenCookieName はリフレッシュトークンを保持するHttpOnly Cookieの名前。
	RefreshTokenCookieName = "admin_refresh_token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var adminContextKey = contextKey("admin_user")

// AdminVerifier はアクセストークンから管理者を解決する。auth.Serviceが満たす。
type AdminVerifier interface {
	RequireAdmin(ctx context.Context, token string) (*model.AdminUser, error)
}

// ExtractToken はリクエストからアクセストークンを取り出す。
// Authorization: Bearer ヘッダーを優先し、なければCookieを参照する。
// 2つ目の戻り値はヘッダーから取得した場合にtrueとなる。
func ExtractToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token, true
			}
		}
	}
	if c, err := r.Cookie(AccessTokenCookieName); err == nil && c.Value != "" {
		return c.Value, false
	}
	return "", false
}

// NewAdminAuthMiddleware はアクセストークンを検証し、管理者をコンテキストに注入するミドルウェアを返す。
// 検証に失敗した場合はauth.Errorのステータスコードで統一エラーレスポンスを返す。
func NewAdminAuthMiddleware(verifier AdminVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, _ := ExtractToken(r)

			user, err := verifier.RequireAdmin(r.Context(), token)
			if err != nil {
				WriteAuthError(w, r, err)
				return
			}

			setLoggedAdmin(r.Context(), user.ID)
			ctx := context.WithValue(r.Context(), adminContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission は認証済み管理者がresourceに対するactionを持つことを要求するミドルウェアを返す。
// NewAdminAuthMiddlewareの後に配置する。
func RequirePermission(resource string, action model.Action) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.Authorize(AdminFromContext(r.Context()), resource, action); err != nil {
				WriteAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole は認証済み管理者のロールが候補のいずれかであることを要求するミドルウェアを返す。
func RequireRole(roles ...model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.AuthorizeRole(AdminFromContext(r.Context()), roles...); err != nil {
				WriteAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteAuthError は認証・認可エラーを統一フォーマットで書き込む。
// auth.Error以外のエラーはAUTH_FAILEDとして扱う。
func WriteAuthError(w http.ResponseWriter, r *http.Request, err error) {
	authErr, ok := auth.AsError(err)
	if !ok {
		authErr = auth.ErrAuthFailed(err)
	}
	if authErr.Code == auth.CodeAuthFailed {
		slog.WarnContext(r.Context(), "admin authentication failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", authErr.Unwrap()),
		)
	}
	WriteErrorResponse(w, authErr.Status, authErr.APIError())
}

// AdminFromContext はリクエストコンテキストから認証済み管理者を取得する。
// 認証ミドルウェアを通過していない場合はnilを返す。
func AdminFromContext(ctx context.Context) *model.AdminUser {
	user, _ := ctx.Value(adminContextKey).(*model.AdminUser)
	return user
}

// ContextWithAdmin はコンテキストに管理者を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithAdmin(ctx context.Context, user *model.AdminUser) context.Context {
	return context.WithValue(ctx, adminContextKey, user)
}
