// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/vendsite/internal/model"
)

// ErrInvalidRow は行の読み取りには成功したが、内容がドメインの制約を満たさない場合に返す。
// ストアには到達できているため、接続エラーとは区別して扱う。
var ErrInvalidRow = errors.New("stored row is invalid")

// AdminUserRepository は管理者データの永続化インターフェース。
// 参照系はすべて is_active = true の管理者のみを対象とする。
type AdminUserRepository interface {
	// FindActiveByID は指定IDの有効な管理者を取得する。見つからない場合はnilを返す。
	FindActiveByID(ctx context.Context, id string) (*model.AdminUser, error)

	// FindCredentialsByEmail は有効な管理者とパスワードハッシュを取得する。
	// 見つからない場合、またはパスワードが未設定の場合はnilと空文字を返す。
	FindCredentialsByEmail(ctx context.Context, email string) (*model.AdminUser, string, error)

	// FindActiveByIdentity はproviderとsubjectで紐付けられた有効な管理者を取得する。
	// 見つからない場合はnilを返す。
	FindActiveByIdentity(ctx context.Context, provider, subject string) (*model.AdminUser, error)

	// UpdateLastLogin は最終ログイン日時を更新する。avatarURLが空でなければアバターも更新する。
	UpdateLastLogin(ctx context.Context, id string, at time.Time, avatarURL string) error

	// CreateWithIdentity は管理者とidentityを同一トランザクションで作成する。
	// identityがnilの場合は管理者のみを作成する。
	CreateWithIdentity(ctx context.Context, user *model.AdminUser, passwordHash string, identity *model.AdminIdentity) error
}

// ActivityLogRepository は管理者操作ログの永続化インターフェース。
type ActivityLogRepository interface {
	// Create は操作ログを1件追加する。
	Create(ctx context.Context, entry *model.ActivityLog) error

	// DeleteOlderThan は指定日時より古い操作ログを削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// MachineRepository は自販機カタログの永続化インターフェース。
type MachineRepository interface {
	// ListActive は公開中の全機種を表示順で取得する。
	ListActive(ctx context.Context) ([]model.Machine, error)

	// FindActiveBySlug は公開中の機種をスラッグで取得する。見つからない場合はnilを返す。
	FindActiveBySlug(ctx context.Context, slug string) (*model.Machine, error)

	// ListActiveByCategory は公開中の機種をカテゴリで絞り込んで取得する。
	ListActiveByCategory(ctx context.Context, category model.Category) ([]model.Machine, error)

	// ListAll は非公開を含む全機種を取得する。
	ListAll(ctx context.Context) ([]model.Machine, error)

	// FindByID は指定IDの機種を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Machine, error)

	// FindBySlug は非公開を含めてスラッグで機種を取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Machine, error)

	// Create は機種と画像を同一トランザクションで作成する。
	Create(ctx context.Context, machine *model.Machine) error

	// Update は機種を更新し、画像を置き換える。
	Update(ctx context.Context, machine *model.Machine) error

	// SetActive は公開状態を切り替える。
	SetActive(ctx context.Context, id string, active bool) error

	// DeleteByID は指定IDの機種を削除する。画像はCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// LeadRepository は見込み客データの永続化インターフェース。
type LeadRepository interface {
	// Create は見込み客を1件保存する。
	Create(ctx context.Context, lead *model.Lead) error

	// ListRecent は新しい順に最大limit件を取得する。
	ListRecent(ctx context.Context, limit int) ([]model.Lead, error)
}
