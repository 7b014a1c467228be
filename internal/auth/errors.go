package auth

import (
	"errors"
	"net/http"

	"github.com/hitoshi/vendsite/internal/model"
)

// 認証・認可エラーのコード
const (
	CodeNoToken                 = "NO_TOKEN"
	CodeInvalidSession          = "INVALID_SESSION"
	CodeAuthFailed              = "AUTH_FAILED"
	CodeInsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	CodeInsufficientRole        = "INSUFFICIENT_ROLE"
)

// Error はガード関数が返す型付きエラー。
// CodeとStatusからハンドラーがHTTPレスポンスを組み立てる。
type Error struct {
	Code    string
	Status  int
	Message string
	cause   error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Code + ": " + e.Message
}

// Unwrap は原因となったエラーを返す。
func (e *Error) Unwrap() error {
	return e.cause
}

// APIError は統一エラーフォーマットに変換する。
func (e *Error) APIError() *model.APIError {
	action := "再度ログインしてください。"
	if e.Status == http.StatusForbidden {
		action = "権限が必要な場合はスーパー管理者に依頼してください。"
	}
	return &model.APIError{
		Code:     e.Code,
		Message:  e.Message,
		Category: "auth",
		Action:   action,
	}
}

// ErrNoToken はトークンが提示されていないことを表す。
func ErrNoToken() *Error {
	return &Error{Code: CodeNoToken, Status: http.StatusUnauthorized, Message: "認証トークンがありません。"}
}

// ErrInvalidSession はトークンが不正、期限切れ、または管理者が無効であることを表す。
func ErrInvalidSession() *Error {
	return &Error{Code: CodeInvalidSession, Status: http.StatusUnauthorized, Message: "セッションが無効または期限切れです。"}
}

// ErrAuthFailed は検証中の予期しない失敗を表す。
func ErrAuthFailed(cause error) *Error {
	return &Error{Code: CodeAuthFailed, Status: http.StatusUnauthorized, Message: "認証処理に失敗しました。", cause: cause}
}

// ErrInsufficientPermissions は操作権限がないことを表す。
func ErrInsufficientPermissions() *Error {
	return &Error{Code: CodeInsufficientPermissions, Status: http.StatusForbidden, Message: "この操作を行う権限がありません。"}
}

// ErrInsufficientRole は必要なロールを持たないことを表す。
func ErrInsufficientRole() *Error {
	return &Error{Code: CodeInsufficientRole, Status: http.StatusForbidden, Message: "この操作に必要なロールがありません。"}
}

// AsError はerrがauth.Errorであればそれを返す。
func AsError(err error) (*Error, bool) {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr, true
	}
	return nil, false
}
