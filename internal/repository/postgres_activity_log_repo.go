package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/vendsite/internal/model"
)

// PostgresActivityLogRepo はPostgreSQLを使用した操作ログリポジトリ。
type PostgresActivityLogRepo struct {
	db *sql.DB
}

// NewPostgresActivityLogRepo はPostgresActivityLogRepoを生成する。
func NewPostgresActivityLogRepo(db *sql.DB) *PostgresActivityLogRepo {
	return &PostgresActivityLogRepo{db: db}
}

// Create は操作ログを1件追加する。
func (r *PostgresActivityLogRepo) Create(ctx context.Context, entry *model.ActivityLog) error {
	details := entry.Details
	if details == nil {
		details = map[string]any{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal activity details: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO admin_activity_log (id, admin_user_id, action, details, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.AdminUserID, entry.Action, payload, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

// DeleteOlderThan は指定日時より古い操作ログを削除する。
func (r *PostgresActivityLogRepo) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM admin_activity_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old activity logs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ ActivityLogRepository = (*PostgresActivityLogRepo)(nil)
