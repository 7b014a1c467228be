package auth

import (
	"context"

	"github.com/hitoshi/vendsite/internal/model"
)

// RequireAdmin はトークンを検証し、有効な管理者を返す。
// 失敗時は NO_TOKEN / INVALID_SESSION / AUTH_FAILED のいずれかの*Errorを返す。
func (s *Service) RequireAdmin(ctx context.Context, token string) (*model.AdminUser, error) {
	if token == "" {
		return nil, ErrNoToken()
	}
	user, err := s.VerifySession(ctx, token)
	if err != nil {
		return nil, ErrAuthFailed(err)
	}
	if user == nil {
		return nil, ErrInvalidSession()
	}
	return user, nil
}

// RequirePermission はRequireAdminに加えて、resourceへのactionが許可されているかを確認する。
// スーパー管理者は権限リストに関係なく通過する。
func (s *Service) RequirePermission(ctx context.Context, token, resource string, action model.Action) (*model.AdminUser, error) {
	user, err := s.RequireAdmin(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := Authorize(user, resource, action); err != nil {
		return nil, err
	}
	return user, nil
}

// RequireRole はRequireAdminに加えて、ロールが候補のいずれかに一致するかを確認する。
func (s *Service) RequireRole(ctx context.Context, token string, roles ...model.Role) (*model.AdminUser, error) {
	user, err := s.RequireAdmin(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := AuthorizeRole(user, roles...); err != nil {
		return nil, err
	}
	return user, nil
}

// Authorize は検証済みの管理者に対して権限を確認する。
func Authorize(user *model.AdminUser, resource string, action model.Action) error {
	if user == nil {
		return ErrInvalidSession()
	}
	if !user.HasPermission(resource, action) {
		return ErrInsufficientPermissions()
	}
	return nil
}

// AuthorizeRole は検証済みの管理者に対してロールを確認する。
// スーパー管理者も候補に含まれていなければ拒否する。
func AuthorizeRole(user *model.AdminUser, roles ...model.Role) error {
	if user == nil {
		return ErrInvalidSession()
	}
	if !user.HasRole(roles...) {
		return ErrInsufficientRole()
	}
	return nil
}
