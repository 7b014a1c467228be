package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/vendsite/internal/model"
)

// adminUserColumns はadmin_usersの取得列。エイリアス u を前提とする。
const adminUserColumns = `u.id, u.email, u.name, u.role, u.permissions, u.is_active,
	COALESCE(u.avatar_url, ''), u.last_login_at, u.created_at, u.updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresAdminUserRepo はPostgreSQLを使用した管理者リポジトリ。
type PostgresAdminUserRepo struct {
	db *sql.DB
}

// NewPostgresAdminUserRepo はPostgresAdminUserRepoを生成する。
func NewPostgresAdminUserRepo(db *sql.DB) *PostgresAdminUserRepo {
	return &PostgresAdminUserRepo{db: db}
}

// FindActiveByID は指定IDの有効な管理者を取得する。見つからない場合はnilを返す。
func (r *PostgresAdminUserRepo) FindActiveByID(ctx context.Context, id string) (*model.AdminUser, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+adminUserColumns+`
		 FROM admin_users u
		 WHERE u.id = $1 AND u.is_active = true`,
		id,
	)
	user, err := scanAdminUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin user by ID: %w", err)
	}
	return user, nil
}

// FindCredentialsByEmail は有効な管理者とパスワードハッシュを取得する。
// メールアドレスは大文字小文字を区別せずに照合する。
func (r *PostgresAdminUserRepo) FindCredentialsByEmail(ctx context.Context, email string) (*model.AdminUser, string, error) {
	var hash sql.NullString
	row := r.db.QueryRowContext(ctx,
		`SELECT `+adminUserColumns+`, u.password_hash
		 FROM admin_users u
		 WHERE lower(u.email) = lower($1) AND u.is_active = true`,
		email,
	)
	user, err := scanAdminUser(row, &hash)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to find admin credentials: %w", err)
	}
	if !hash.Valid || hash.String == "" {
		return nil, "", nil
	}
	return user, hash.String, nil
}

// FindActiveByIdentity はproviderとsubjectで紐付けられた有効な管理者を取得する。
func (r *PostgresAdminUserRepo) FindActiveByIdentity(ctx context.Context, provider, subject string) (*model.AdminUser, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+adminUserColumns+`
		 FROM admin_users u
		 JOIN admin_identities i ON i.admin_user_id = u.id
		 WHERE i.provider = $1 AND i.provider_subject = $2 AND u.is_active = true`,
		provider, subject,
	)
	user, err := scanAdminUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin user by identity: %w", err)
	}
	return user, nil
}

// UpdateLastLogin は最終ログイン日時を更新する。avatarURLが空でなければアバターも更新する。
func (r *PostgresAdminUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time, avatarURL string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE admin_users
		 SET last_login_at = $2,
		     avatar_url = COALESCE(NULLIF($3, ''), avatar_url),
		     updated_at = now()
		 WHERE id = $1`,
		id, at, avatarURL,
	)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// CreateWithIdentity は管理者とidentityを同一トランザクションで作成する。
func (r *PostgresAdminUserRepo) CreateWithIdentity(ctx context.Context, user *model.AdminUser, passwordHash string, identity *model.AdminIdentity) error {
	perms, err := json.Marshal(permissionsOrEmpty(user.Permissions))
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO admin_users (id, email, name, role, permissions, is_active, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
		user.ID, user.Email, user.Name, string(user.Role), perms, user.IsActive, passwordHash, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert admin user: %w", err)
	}

	if identity != nil {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO admin_identities (id, admin_user_id, provider, provider_subject, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			identity.ID, identity.AdminUserID, identity.Provider, identity.ProviderSubject, identity.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert admin identity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// scanAdminUser はadminUserColumnsの並びで1行を読み取る。
// extraはadminUserColumnsの後ろに続く追加列の格納先。
func scanAdminUser(row rowScanner, extra ...any) (*model.AdminUser, error) {
	user := &model.AdminUser{}
	var (
		role      string
		perms     []byte
		lastLogin sql.NullTime
	)
	dest := []any{
		&user.ID, &user.Email, &user.Name, &role, &perms, &user.IsActive,
		&user.AvatarURL, &lastLogin, &user.CreatedAt, &user.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	user.Role = model.Role(role)
	if !user.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q for admin user %s", ErrInvalidRow, role, user.ID)
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &user.Permissions); err != nil {
			return nil, fmt.Errorf("%w: failed to decode permissions for admin user %s: %v", ErrInvalidRow, user.ID, err)
		}
		if err := model.ValidatePermissions(user.Permissions); err != nil {
			return nil, fmt.Errorf("%w: invalid permissions for admin user %s: %v", ErrInvalidRow, user.ID, err)
		}
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	return user, nil
}

func permissionsOrEmpty(p []model.Permission) []model.Permission {
	if p == nil {
		return []model.Permission{}
	}
	return p
}

// compile-time interface check
var _ AdminUserRepository = (*PostgresAdminUserRepo)(nil)
