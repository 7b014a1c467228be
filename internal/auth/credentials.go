package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/vendsite/internal/model"
)

// MinPasswordLength は管理者パスワードの最小文字数。
const MinPasswordLength = 12

// CredentialVerifier はメールアドレスとパスワードの照合を行う。
// 照合に失敗した場合はnil, nilを返し、どちらが誤っていたかは区別しない。
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, email, password string) (*model.AdminUser, error)
}

// CredentialStore はパスワード照合に必要な参照を提供する。
type CredentialStore interface {
	FindCredentialsByEmail(ctx context.Context, email string) (*model.AdminUser, string, error)
}

// PasswordVerifier はbcryptハッシュで照合するCredentialVerifierの実装。
type PasswordVerifier struct {
	store     CredentialStore
	dummyHash []byte
}

// NewPasswordVerifier はPasswordVerifierを生成する。
// 存在しないメールアドレスでも同じ計算量になるよう、照合用のダミーハッシュを作っておく。
func NewPasswordVerifier(store CredentialStore, cost int) (*PasswordVerifier, error) {
	dummy, err := bcrypt.GenerateFromPassword([]byte("vendsite-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &PasswordVerifier{store: store, dummyHash: dummy}, nil
}

// VerifyCredentials はメールアドレスとパスワードを照合する。
func (v *PasswordVerifier) VerifyCredentials(ctx context.Context, email, password string) (*model.AdminUser, error) {
	user, hash, err := v.store.FindCredentialsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find credentials: %w", err)
	}

	if user == nil || hash == "" {
		_ = bcrypt.CompareHashAndPassword(v.dummyHash, []byte(password))
		return nil, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to compare password: %w", err)
	}
	return user, nil
}

// HashPassword はパスワードをbcryptでハッシュ化する。管理者の事前登録で使用する。
func HashPassword(password string, cost int) (string, error) {
	if len([]rune(password)) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// compile-time interface check
var _ CredentialVerifier = (*PasswordVerifier)(nil)
