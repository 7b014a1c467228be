// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, catalog, lead, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidCategory    = "INVALID_CATEGORY"
	ErrCodeMachineNotFound    = "MACHINE_NOT_FOUND"
	ErrCodeMachineSlugTaken   = "MACHINE_SLUG_TAKEN"
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeGoogleDisabled     = "GOOGLE_LOGIN_DISABLED"
	ErrCodeAccountNotAllowed  = "ACCOUNT_NOT_ALLOWED"
)

// NewInvalidCredentialsError は認証情報の不一致エラーを生成する。
// メールアドレスとパスワードのどちらが誤っているかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewInvalidRequestError はリクエスト形式の不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidCategoryError は未定義のカテゴリ指定エラーを生成する。
func NewInvalidCategoryError(category string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCategory,
		Message:  fmt.Sprintf("無効なカテゴリです: %s", category),
		Category: "validation",
		Action:   "カテゴリには refrigerated または non-refrigerated を指定してください。",
	}
}

// NewMachineNotFoundError は機種未検出エラーを生成する。
func NewMachineNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeMachineNotFound,
		Message:  fmt.Sprintf("指定された機種が見つかりません: %s", key),
		Category: "catalog",
		Action:   "URLを確認してください。",
	}
}

// NewMachineSlugTakenError はスラッグ重複エラーを生成する。
func NewMachineSlugTakenError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeMachineSlugTaken,
		Message:  fmt.Sprintf("スラッグは既に使用されています: %s", slug),
		Category: "validation",
		Action:   "別のスラッグを指定してください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("%s が不正です: %s", field, reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewGoogleDisabledError はGoogleログイン未設定エラーを生成する。
func NewGoogleDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeGoogleDisabled,
		Message:  "Googleログインは有効になっていません。",
		Category: "auth",
		Action:   "メールアドレスとパスワードでログインしてください。",
	}
}

// NewAccountNotAllowedError は事前登録されていないGoogleアカウントでのログインエラーを生成する。
func NewAccountNotAllowedError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotAllowed,
		Message:  "このアカウントは管理画面へのアクセスが許可されていません。",
		Category: "auth",
		Action:   "管理者にアカウントの登録を依頼してください。",
	}
}
