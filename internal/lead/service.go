// Package lead はお問い合わせフォームと離脱防止ポップアップからの見込み客獲得を扱う。
package lead

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/vendsite/internal/machine"
	"github.com/hitoshi/vendsite/internal/model"
	"github.com/hitoshi/vendsite/internal/repository"
	"github.com/hitoshi/vendsite/internal/security"
)

const (
	MaxMessageLength = 4000
	MaxNameLength    = 100
	MaxEmailLength   = 254
	MaxPhoneLength   = 30
	MaxCompanyLength = 200

	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Metrics は見込み客の受付件数を記録する。
type Metrics interface {
	RecordLeadReceived(source string)
}

type nopMetrics struct{}

func (nopMetrics) RecordLeadReceived(string) {}

// Input は公開フォームから送信された見込み客情報。
type Input struct {
	Source      model.LeadSource `json:"source"`
	Name        string           `json:"name"`
	Email       string           `json:"email"`
	Phone       string           `json:"phone"`
	Company     string           `json:"company"`
	Message     string           `json:"message"`
	MachineSlug string           `json:"machine_slug"`
}

// Service は見込み客の受付と一覧取得を行う。
type Service struct {
	repo      repository.LeadRepository
	sanitizer security.ContentSanitizerService
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。metricsとloggerはnil可。
func NewService(repo repository.LeadRepository, sanitizer security.ContentSanitizerService, metrics Metrics, logger *slog.Logger) *Service {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit は入力を検証・サニタイズして見込み客を保存する。
func (s *Service) Submit(ctx context.Context, in Input) (*model.Lead, error) {
	lead, err := s.build(in)
	if err != nil {
		return nil, err
	}
	lead.ID = uuid.New().String()
	lead.CreatedAt = s.now()

	if err := s.repo.Create(ctx, lead); err != nil {
		return nil, fmt.Errorf("お問い合わせの保存に失敗しました: %w", err)
	}

	s.metrics.RecordLeadReceived(string(lead.Source))
	s.logger.InfoContext(ctx, "lead received",
		slog.String("lead_id", lead.ID),
		slog.String("source", string(lead.Source)),
		slog.String("machine_slug", lead.MachineSlug),
	)
	return lead, nil
}

// List は新しい順に見込み客を返す。limitが0以下の場合は既定値を使う。
func (s *Service) List(ctx context.Context, limit int) ([]model.Lead, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	leads, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("お問い合わせ一覧の取得に失敗しました: %w", err)
	}
	if leads == nil {
		leads = []model.Lead{}
	}
	return leads, nil
}

func (s *Service) build(in Input) (*model.Lead, error) {
	if !in.Source.Valid() {
		return nil, model.NewValidationError("source", "contact_form または exit_intent を指定してください")
	}

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}

	name := s.sanitizer.SanitizeText(in.Name)
	if name == "" && in.Source == model.LeadSourceContactForm {
		return nil, model.NewValidationError("name", "必須です")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, model.NewValidationError("name", fmt.Sprintf("%d文字以内で入力してください", MaxNameLength))
	}

	message := s.sanitizer.SanitizeText(in.Message)
	if utf8.RuneCountInString(message) > MaxMessageLength {
		return nil, model.NewValidationError("message", fmt.Sprintf("%d文字以内で入力してください", MaxMessageLength))
	}

	phone := s.sanitizer.SanitizeText(in.Phone)
	if len(phone) > MaxPhoneLength || !validPhone(phone) {
		return nil, model.NewValidationError("phone", "数字・ハイフン・括弧・+のみ使用できます")
	}

	company := s.sanitizer.SanitizeText(in.Company)
	if utf8.RuneCountInString(company) > MaxCompanyLength {
		return nil, model.NewValidationError("company", fmt.Sprintf("%d文字以内で入力してください", MaxCompanyLength))
	}

	slug := strings.TrimSpace(in.MachineSlug)
	if slug != "" && !machine.ValidSlug(slug) {
		return nil, model.NewValidationError("machine_slug", "不正なスラッグです")
	}

	return &model.Lead{
		Source:      in.Source,
		Name:        name,
		Email:       email,
		Phone:       phone,
		Company:     company,
		Message:     message,
		MachineSlug: slug,
	}, nil
}

// normalizeEmail は表示名付きの形式も受け付け、アドレス部分のみを返す。
func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", model.NewValidationError("email", "必須です")
	}
	if len(raw) > MaxEmailLength {
		return "", model.NewValidationError("email", "長すぎます")
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil {
		return "", model.NewValidationError("email", "メールアドレスの形式が正しくありません")
	}
	return addr.Address, nil
}

func validPhone(phone string) bool {
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
		case r == '-', r == '+', r == '(', r == ')', r == ' ':
		default:
			return false
		}
	}
	return true
}
