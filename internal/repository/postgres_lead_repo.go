package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/vendsite/internal/model"
)

// PostgresLeadRepo はPostgreSQLを使用した見込み客リポジトリ。
type PostgresLeadRepo struct {
	db *sql.DB
}

// NewPostgresLeadRepo はPostgresLeadRepoを生成する。
func NewPostgresLeadRepo(db *sql.DB) *PostgresLeadRepo {
	return &PostgresLeadRepo{db: db}
}

// Create は見込み客を1件保存する。
func (r *PostgresLeadRepo) Create(ctx context.Context, lead *model.Lead) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO leads (id, source, name, email, phone, company, message, machine_slug, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
		lead.ID, string(lead.Source), lead.Name, lead.Email, lead.Phone, lead.Company,
		lead.Message, lead.MachineSlug, lead.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lead: %w", err)
	}
	return nil
}

// ListRecent は新しい順に最大limit件を取得する。
func (r *PostgresLeadRepo) ListRecent(ctx context.Context, limit int) ([]model.Lead, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source, name, email, phone, company, message, COALESCE(machine_slug, ''), created_at
		 FROM leads
		 ORDER BY created_at DESC, id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	leads := []model.Lead{}
	for rows.Next() {
		var l model.Lead
		var source string
		if err := rows.Scan(&l.ID, &source, &l.Name, &l.Email, &l.Phone, &l.Company, &l.Message, &l.MachineSlug, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		l.Source = model.LeadSource(source)
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate leads: %w", err)
	}
	return leads, nil
}

// compile-time interface check
var _ LeadRepository = (*PostgresLeadRepo)(nil)
