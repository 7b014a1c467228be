// Package machine はスタッフ向けの機種掲載管理（CRUD）を提供する。
package machine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/vendsite/internal/model"
	"github.com/hitoshi/vendsite/internal/repository"
	"github.com/hitoshi/vendsite/internal/security"
)

// 入力値の上限
const (
	MaxNameLength             = 120
	MaxShortDescriptionLength = 300
	MaxDescriptionLength      = 20000
	MaxImages                 = 20
	MaxTags                   = 20
	// display_order列はINTEGERなので、それに収まる範囲に制限する
	MaxDisplayOrder           = 1_000_000
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ActivityRecorder は管理者操作の監査ログを記録する。auth.Serviceが満たす。
// 記録は非同期で行われ、失敗しても呼び出し元の処理には影響しない。
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, adminUserID, action string, details map[string]any)
}

// Input は機種の作成・更新リクエスト。
type Input struct {
	Slug             string               `json:"slug"`
	Name             string               `json:"name"`
	Category         model.Category       `json:"category"`
	ShortDescription string               `json:"short_description"`
	Description      string               `json:"description"`
	Images           []model.MachineImage `json:"images"`
	Specifications   []model.SpecGroup    `json:"specifications"`
	Features         []model.Feature      `json:"features"`
	BestFor          []string             `json:"best_for"`
	RelatedSlugs     []string             `json:"related_slugs"`
	IsActive         bool                 `json:"is_active"`
	DisplayOrder     int                  `json:"display_order"`
}

// Service は機種掲載の管理サービス。
type Service struct {
	repo      repository.MachineRepository
	sanitizer security.ContentSanitizerService
	activity  ActivityRecorder
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.MachineRepository,
	sanitizer security.ContentSanitizerService,
	activity ActivityRecorder,
) *Service {
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		activity:  activity,
		now:       time.Now,
	}
}

// List は非公開を含む全機種を表示順で返す。
func (s *Service) List(ctx context.Context) ([]model.Machine, error) {
	machines, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("機種一覧の取得に失敗しました: %w", err)
	}
	if machines == nil {
		machines = []model.Machine{}
	}
	model.SortMachines(machines)
	return machines, nil
}

// Get は指定IDの機種を返す。存在しない場合はMACHINE_NOT_FOUNDを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Machine, error) {
	m, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("機種の取得に失敗しました: %w", err)
	}
	if m == nil {
		return nil, model.NewMachineNotFoundError(id)
	}
	return m, nil
}

// Create は機種を新規作成する。
func (s *Service) Create(ctx context.Context, actor *model.AdminUser, in Input) (*model.Machine, error) {
	m, err := s.build(in)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSlugAvailable(ctx, m.Slug, ""); err != nil {
		return nil, err
	}

	now := s.now()
	m.ID = uuid.New().String()
	m.CreatedAt = now
	m.UpdatedAt = now

	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("機種の作成に失敗しました: %w", err)
	}

	s.record(ctx, actor, model.ActivityMachineCreate, m)
	return m, nil
}

// Update は既存機種を入力内容で置き換える。
func (s *Service) Update(ctx context.Context, actor *model.AdminUser, id string, in Input) (*model.Machine, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	m, err := s.build(in)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSlugAvailable(ctx, m.Slug, existing.ID); err != nil {
		return nil, err
	}

	m.ID = existing.ID
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("機種の更新に失敗しました: %w", err)
	}

	s.record(ctx, actor, model.ActivityMachineUpdate, m)
	return m, nil
}

// SetPublished は機種の公開状態を切り替える。
func (s *Service) SetPublished(ctx context.Context, actor *model.AdminUser, id string, published bool) (*model.Machine, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetActive(ctx, m.ID, published); err != nil {
		return nil, fmt.Errorf("公開状態の更新に失敗しました: %w", err)
	}
	m.IsActive = published
	m.UpdatedAt = s.now()

	s.record(ctx, actor, model.ActivityMachinePublish, m, "is_active", published)
	return m, nil
}

// Delete は機種を削除する。
func (s *Service) Delete(ctx context.Context, actor *model.AdminUser, id string) error {
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteByID(ctx, m.ID); err != nil {
		return fmt.Errorf("機種の削除に失敗しました: %w", err)
	}

	s.record(ctx, actor, model.ActivityMachineDelete, m)
	return nil
}

// build は入力を検証し、サニタイズ済みの機種を組み立てる。
func (s *Service) build(in Input) (*model.Machine, error) {
	name := s.sanitizer.SanitizeText(in.Name)
	if name == "" {
		return nil, model.NewValidationError("name", "必須です")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, model.NewValidationError("name", fmt.Sprintf("%d文字以内で入力してください", MaxNameLength))
	}

	if !in.Category.Valid() {
		return nil, model.NewInvalidCategoryError(string(in.Category))
	}

	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		slug = Slugify(name)
		if slug == "" {
			return nil, model.NewValidationError("slug", "名前から生成できないため指定してください")
		}
	}
	if !slugPattern.MatchString(slug) {
		return nil, model.NewValidationError("slug", "英小文字・数字・ハイフンのみ使用できます")
	}

	short := s.sanitizer.SanitizeText(in.ShortDescription)
	if utf8.RuneCountInString(short) > MaxShortDescriptionLength {
		return nil, model.NewValidationError("short_description", fmt.Sprintf("%d文字以内で入力してください", MaxShortDescriptionLength))
	}
	if len(in.Description) > MaxDescriptionLength {
		return nil, model.NewValidationError("description", "長すぎます")
	}

	if err := checkDisplayOrder("display_order", in.DisplayOrder); err != nil {
		return nil, err
	}

	images, err := s.buildImages(in.Images)
	if err != nil {
		return nil, err
	}
	related, err := cleanRelatedSlugs(in.RelatedSlugs, slug)
	if err != nil {
		return nil, err
	}
	bestFor, err := s.cleanTags("best_for", in.BestFor)
	if err != nil {
		return nil, err
	}

	m := &model.Machine{
		Slug:             slug,
		Name:             name,
		Category:         in.Category,
		ShortDescription: short,
		Description:      s.sanitizer.Sanitize(in.Description),
		Images:           images,
		Specifications:   s.cleanSpecs(in.Specifications),
		Features:         s.cleanFeatures(in.Features),
		BestFor:          bestFor,
		RelatedSlugs:     related,
		IsActive:         in.IsActive,
		DisplayOrder:     in.DisplayOrder,
	}
	m.SortImages()
	return m, nil
}

func (s *Service) buildImages(in []model.MachineImage) ([]model.MachineImage, error) {
	if len(in) > MaxImages {
		return nil, model.NewValidationError("images", fmt.Sprintf("%d枚以内にしてください", MaxImages))
	}
	images := make([]model.MachineImage, 0, len(in))
	for i, img := range in {
		u := strings.TrimSpace(img.URL)
		if err := security.ValidateImageURL(u); err != nil {
			return nil, model.NewValidationError(fmt.Sprintf("images[%d].url", i), err.Error())
		}
		if err := checkDisplayOrder(fmt.Sprintf("images[%d].display_order", i), img.DisplayOrder); err != nil {
			return nil, err
		}
		images = append(images, model.MachineImage{
			URL:          u,
			Alt:          s.sanitizer.SanitizeText(img.Alt),
			DisplayOrder: img.DisplayOrder,
		})
	}
	return images, nil
}

func checkDisplayOrder(field string, order int) error {
	if order < 0 || order > MaxDisplayOrder {
		return model.NewValidationError(field, fmt.Sprintf("0以上%d以下を指定してください", MaxDisplayOrder))
	}
	return nil
}

func (s *Service) cleanSpecs(in []model.SpecGroup) []model.SpecGroup {
	out := make([]model.SpecGroup, 0, len(in))
	for _, g := range in {
		group := model.SpecGroup{Title: s.sanitizer.SanitizeText(g.Title), Items: []model.SpecItem{}}
		for _, item := range g.Items {
			label := s.sanitizer.SanitizeText(item.Label)
			value := s.sanitizer.SanitizeText(item.Value)
			if label == "" && value == "" {
				continue
			}
			group.Items = append(group.Items, model.SpecItem{Label: label, Value: value})
		}
		if group.Title == "" && len(group.Items) == 0 {
			continue
		}
		out = append(out, group)
	}
	return out
}

func (s *Service) cleanFeatures(in []model.Feature) []model.Feature {
	out := make([]model.Feature, 0, len(in))
	for _, f := range in {
		title := s.sanitizer.SanitizeText(f.Title)
		if title == "" {
			continue
		}
		out = append(out, model.Feature{Title: title, Description: s.sanitizer.SanitizeText(f.Description)})
	}
	return out
}

func (s *Service) cleanTags(field string, in []string) ([]string, error) {
	if len(in) > MaxTags {
		return nil, model.NewValidationError(field, fmt.Sprintf("%d件以内にしてください", MaxTags))
	}
	out := make([]string, 0, len(in))
	for _, t := range in {
		if v := s.sanitizer.SanitizeText(t); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func cleanRelatedSlugs(in []string, self string) ([]string, error) {
	if len(in) > MaxTags {
		return nil, model.NewValidationError("related_slugs", fmt.Sprintf("%d件以内にしてください", MaxTags))
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" || r == self || seen[r] {
			continue
		}
		if !slugPattern.MatchString(r) {
			return nil, model.NewValidationError("related_slugs", fmt.Sprintf("不正なスラッグです: %s", r))
		}
		seen[r] = true
		out = append(out, r)
	}
	return out, nil
}

// ensureSlugAvailable はスラッグが他の機種に使われていないことを確認する。
func (s *Service) ensureSlugAvailable(ctx context.Context, slug, selfID string) error {
	other, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		return fmt.Errorf("スラッグの確認に失敗しました: %w", err)
	}
	if other != nil && other.ID != selfID {
		return model.NewMachineSlugTakenError(slug)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor *model.AdminUser, action string, m *model.Machine, extra ...any) {
	if s.activity == nil || actor == nil {
		return
	}
	details := map[string]any{"machine_id": m.ID, "slug": m.Slug}
	for i := 0; i+1 < len(extra); i += 2 {
		if k, ok := extra[i].(string); ok {
			details[k] = extra[i+1]
		}
	}
	s.activity.RecordActivity(ctx, actor.ID, action, details)
}

// ValidSlug はスラッグの形式が正しいかを返す。
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// Slugify は名前からスラッグを生成する。
// ASCII英数字以外は区切りとして扱い、生成できない場合は空文字を返す。
func Slugify(name string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
		default:
			pendingHyphen = true
		}
	}
	return b.String()
}
