// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"slices"
	"time"
)

// Role は管理者ロールを表す。
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Valid はロールが定義済みの値かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Action はリソースに対して許可される操作を表す。
type Action string

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionDelete  Action = "delete"
	ActionPublish Action = "publish"
)

// Valid は操作が定義済みの値かどうかを返す。
func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionWrite, ActionDelete, ActionPublish:
		return true
	}
	return false
}

// Permission はリソース名と許可された操作の組を表す。
// JSONB列およびトークンのクレームには構造化された配列として格納する。
type Permission struct {
	Resource string   `json:"resource"`
	Actions  []Action `json:"actions"`
}

// Validate はリソース名と操作が有効かどうかを検証する。
func (p Permission) Validate() error {
	if p.Resource == "" {
		return fmt.Errorf("permission resource is empty")
	}
	for _, a := range p.Actions {
		if !a.Valid() {
			return fmt.Errorf("unknown action %q for resource %q", a, p.Resource)
		}
	}
	return nil
}

// Allows は指定操作が許可されているかどうかを返す。
func (p Permission) Allows(action Action) bool {
	return slices.Contains(p.Actions, action)
}

// ValidatePermissions は権限リスト全体を検証する。
func ValidatePermissions(perms []Permission) error {
	for _, p := range perms {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// AdminUser は管理画面にログインできる管理者を表す。
// 事前登録されたアカウントのみが存在し、OAuthログインから自動作成されることはない。
type AdminUser struct {
	ID          string
	Email       string
	Name        string
	Role        Role
	Permissions []Permission
	IsActive    bool
	AvatarURL   string
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsSuperAdmin はスーパー管理者かどうかを返す。
func (u *AdminUser) IsSuperAdmin() bool {
	return u.Role == RoleSuperAdmin
}

// HasPermission は指定リソースへの操作が許可されているかどうかを返す。
// スーパー管理者は権限リストに関係なく常に許可される。
func (u *AdminUser) HasPermission(resource string, action Action) bool {
	if u.IsSuperAdmin() {
		return true
	}
	for _, p := range u.Permissions {
		if p.Resource == resource && p.Allows(action) {
			return true
		}
	}
	return false
}

// HasRole はロールが指定候補のいずれかに一致するかどうかを返す。
func (u *AdminUser) HasRole(roles ...Role) bool {
	return slices.Contains(roles, u.Role)
}

// AdminIdentity は管理者と外部IdPアカウントの紐付けを表す。
type AdminIdentity struct {
	ID              string
	AdminUserID     string
	Provider        string
	ProviderSubject string
	CreatedAt       time.Time
}

// AdminSession は発行済みのアクセストークンとリフレッシュトークンの組。
type AdminSession struct {
	User             *AdminUser
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}

// ActivityLog は管理者操作の監査ログ1件を表す。
type ActivityLog struct {
	ID          string
	AdminUserID string
	Action      string
	Details     map[string]any
	CreatedAt   time.Time
}

// 監査ログのアクション名
const (
	ActivityLogin          = "login"
	ActivityLoginGoogle    = "login_google"
	ActivityRefresh        = "refresh"
	ActivityMachineCreate  = "machine_create"
	ActivityMachineUpdate  = "machine_update"
	ActivityMachineDelete  = "machine_delete"
	ActivityMachinePublish = "machine_publish"
)
