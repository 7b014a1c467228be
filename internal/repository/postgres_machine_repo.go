package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/vendsite/internal/model"
)

const machineColumns = `id, slug, name, category, short_description, description,
	specifications, features, best_for, related_slugs, is_active, display_order,
	created_at, updated_at`

const machineOrder = ` ORDER BY display_order, slug`

// PostgresMachineRepo はPostgreSQLを使用した自販機カタログリポジトリ。
type PostgresMachineRepo struct {
	db *sql.DB
}

// NewPostgresMachineRepo はPostgresMachineRepoを生成する。
func NewPostgresMachineRepo(db *sql.DB) *PostgresMachineRepo {
	return &PostgresMachineRepo{db: db}
}

// ListActive は公開中の全機種を表示順で取得する。
func (r *PostgresMachineRepo) ListActive(ctx context.Context) ([]model.Machine, error) {
	return r.list(ctx, `SELECT `+machineColumns+` FROM vending_machines WHERE is_active = true`+machineOrder)
}

// ListActiveByCategory は公開中の機種をカテゴリで絞り込んで取得する。
func (r *PostgresMachineRepo) ListActiveByCategory(ctx context.Context, category model.Category) ([]model.Machine, error) {
	return r.list(ctx,
		`SELECT `+machineColumns+` FROM vending_machines WHERE category = $1 AND is_active = true`+machineOrder,
		string(category),
	)
}

// ListAll は非公開を含む全機種を取得する。
func (r *PostgresMachineRepo) ListAll(ctx context.Context) ([]model.Machine, error) {
	return r.list(ctx, `SELECT `+machineColumns+` FROM vending_machines`+machineOrder)
}

// FindActiveBySlug は公開中の機種をスラッグで取得する。見つからない場合はnilを返す。
func (r *PostgresMachineRepo) FindActiveBySlug(ctx context.Context, slug string) (*model.Machine, error) {
	return r.findOne(ctx,
		`SELECT `+machineColumns+` FROM vending_machines WHERE slug = $1 AND is_active = true`,
		slug,
	)
}

// FindBySlug は非公開を含めてスラッグで機種を取得する。見つからない場合はnilを返す。
func (r *PostgresMachineRepo) FindBySlug(ctx context.Context, slug string) (*model.Machine, error) {
	return r.findOne(ctx, `SELECT `+machineColumns+` FROM vending_machines WHERE slug = $1`, slug)
}

// FindByID は指定IDの機種を取得する。見つからない場合はnilを返す。
func (r *PostgresMachineRepo) FindByID(ctx context.Context, id string) (*model.Machine, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.findOne(ctx, `SELECT `+machineColumns+` FROM vending_machines WHERE id = $1`, id)
}

// Create は機種と画像を同一トランザクションで作成する。
func (r *PostgresMachineRepo) Create(ctx context.Context, m *model.Machine) error {
	specs, features, err := encodeMachineJSON(m)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO vending_machines (id, slug, name, category, short_description, description,
		   specifications, features, best_for, related_slugs, is_active, display_order, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		m.ID, m.Slug, m.Name, string(m.Category), m.ShortDescription, m.Description,
		specs, features, pq.Array(m.BestFor), pq.Array(m.RelatedSlugs),
		m.IsActive, m.DisplayOrder, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isSlugConflict(err) {
			return model.NewMachineSlugTakenError(m.Slug)
		}
		return fmt.Errorf("failed to insert machine: %w", err)
	}

	if err := insertImages(ctx, tx, m.ID, m.Images); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// 同時に同じスラッグで保存された場合、事前チェックをすり抜けて一意制約違反になる
const machineSlugConstraint = "vending_machines_slug_key"

func isSlugConflict(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == machineSlugConstraint
}

// Update は機種を更新し、画像を置き換える。
func (r *PostgresMachineRepo) Update(ctx context.Context, m *model.Machine) error {
	specs, features, err := encodeMachineJSON(m)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE vending_machines
		 SET slug = $2, name = $3, category = $4, short_description = $5, description = $6,
		     specifications = $7, features = $8, best_for = $9, related_slugs = $10,
		     is_active = $11, display_order = $12, updated_at = $13
		 WHERE id = $1`,
		m.ID, m.Slug, m.Name, string(m.Category), m.ShortDescription, m.Description,
		specs, features, pq.Array(m.BestFor), pq.Array(m.RelatedSlugs),
		m.IsActive, m.DisplayOrder, m.UpdatedAt,
	)
	if err != nil {
		if isSlugConflict(err) {
			return model.NewMachineSlugTakenError(m.Slug)
		}
		return fmt.Errorf("failed to update machine: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("machine not found: %s", m.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM machine_images WHERE machine_id = $1`, m.ID); err != nil {
		return fmt.Errorf("failed to delete machine images: %w", err)
	}
	if err := insertImages(ctx, tx, m.ID, m.Images); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// SetActive は公開状態を切り替える。
func (r *PostgresMachineRepo) SetActive(ctx context.Context, id string, active bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE vending_machines SET is_active = $2, updated_at = now() WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("failed to update machine visibility: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("machine not found: %s", id)
	}
	return nil
}

// DeleteByID は指定IDの機種を削除する。画像はCASCADE削除される。
func (r *PostgresMachineRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM vending_machines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete machine: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("machine not found: %s", id)
	}
	return nil
}

// list は機種一覧を取得し、画像をまとめて読み込む。
func (r *PostgresMachineRepo) list(ctx context.Context, query string, args ...any) ([]model.Machine, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query machines: %w", err)
	}
	defer rows.Close()

	var machines []model.Machine
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan machine: %w", err)
		}
		machines = append(machines, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate machines: %w", err)
	}

	if err := r.attachImages(ctx, machines); err != nil {
		return nil, err
	}
	return machines, nil
}

// findOne は機種を1件取得する。見つからない場合はnilを返す。
func (r *PostgresMachineRepo) findOne(ctx context.Context, query string, args ...any) (*model.Machine, error) {
	m, err := scanMachine(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find machine: %w", err)
	}

	one := []model.Machine{*m}
	if err := r.attachImages(ctx, one); err != nil {
		return nil, err
	}
	return &one[0], nil
}

// attachImages はmachine_imagesを1クエリで読み込み、各機種に表示順で割り当てる。
func (r *PostgresMachineRepo) attachImages(ctx context.Context, machines []model.Machine) error {
	if len(machines) == 0 {
		return nil
	}

	ids := make([]string, len(machines))
	index := make(map[string]int, len(machines))
	for i, m := range machines {
		ids[i] = m.ID
		index[m.ID] = i
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT machine_id, url, alt_text, display_order
		 FROM machine_images
		 WHERE machine_id = ANY($1)
		 ORDER BY machine_id, display_order, url`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to query machine images: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var machineID string
		var img model.MachineImage
		if err := rows.Scan(&machineID, &img.URL, &img.Alt, &img.DisplayOrder); err != nil {
			return fmt.Errorf("failed to scan machine image: %w", err)
		}
		if i, ok := index[machineID]; ok {
			machines[i].Images = append(machines[i].Images, img)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate machine images: %w", err)
	}

	for i := range machines {
		machines[i].SortImages()
	}
	return nil
}

func scanMachine(row rowScanner) (*model.Machine, error) {
	m := &model.Machine{}
	var (
		category         string
		specs, feats     []byte
		bestFor, related pq.StringArray
	)
	err := row.Scan(
		&m.ID, &m.Slug, &m.Name, &category, &m.ShortDescription, &m.Description,
		&specs, &feats, &bestFor, &related, &m.IsActive, &m.DisplayOrder,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Category = model.Category(category)
	m.BestFor = []string(bestFor)
	m.RelatedSlugs = []string(related)
	if len(specs) > 0 {
		if err := json.Unmarshal(specs, &m.Specifications); err != nil {
			return nil, fmt.Errorf("failed to decode specifications: %w", err)
		}
	}
	if len(feats) > 0 {
		if err := json.Unmarshal(feats, &m.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features: %w", err)
		}
	}
	return m, nil
}

func encodeMachineJSON(m *model.Machine) ([]byte, []byte, error) {
	specs := m.Specifications
	if specs == nil {
		specs = []model.SpecGroup{}
	}
	feats := m.Features
	if feats == nil {
		feats = []model.Feature{}
	}
	specJSON, err := json.Marshal(specs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal specifications: %w", err)
	}
	featJSON, err := json.Marshal(feats)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal features: %w", err)
	}
	return specJSON, featJSON, nil
}

func insertImages(ctx context.Context, tx *sql.Tx, machineID string, images []model.MachineImage) error {
	for _, img := range images {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO machine_images (id, machine_id, url, alt_text, display_order)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), machineID, img.URL, img.Alt, img.DisplayOrder,
		)
		if err != nil {
			return fmt.Errorf("failed to insert machine image: %w", err)
		}
	}
	return nil
}

// compile-time interface check
var _ MachineRepository = (*PostgresMachineRepo)(nil)
