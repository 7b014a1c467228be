// Package auth は管理者の認証、セッショントークン、認可ガードを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/vendsite/internal/logger"
	"github.com/hitoshi/vendsite/internal/model"
	"github.com/hitoshi/vendsite/internal/repository"
)

// backgroundWriteTimeout は非同期書き込み1件あたりのタイムアウト。
const backgroundWriteTimeout = 5 * time.Second

// ErrGoogleDisabled はGoogleログインが設定されていない場合に返す。
var ErrGoogleDisabled = errors.New("google login is not configured")

// DegradedMode はVerifySessionでストアに到達できない場合の振る舞いを表す。
type DegradedMode string

const (
	// DegradedModeClaimsFallback はトークンのクレームだけで管理者を組み立てて受け入れる。
	// 受け入れるたびに auth_degraded_mode の監査ログを出力する。
	DegradedModeClaimsFallback DegradedMode = "claims_fallback"
	// DegradedModeFailClosed はストア障害をエラーとして返す。
	DegradedModeFailClosed DegradedMode = "fail_closed"
)

// ParseDegradedMode は設定値をDegradedModeに変換する。
func ParseDegradedMode(s string) (DegradedMode, error) {
	switch DegradedMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DegradedModeClaimsFallback:
		return DegradedModeClaimsFallback, nil
	case DegradedModeFailClosed:
		return DegradedModeFailClosed, nil
	}
	return "", fmt.Errorf("unknown degraded mode %q", s)
}

// Metrics は認証で記録するメトリクス。
type Metrics interface {
	RecordAuthAttempt(method, result string)
	RecordDegradedSession()
	RecordBackgroundWriteFailure(kind string)
}

type nopMetrics struct{}

func (nopMetrics) RecordAuthAttempt(string, string)    {}
func (nopMetrics) RecordDegradedSession()              {}
func (nopMetrics) RecordBackgroundWriteFailure(string) {}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	DegradedMode DegradedMode
	Logger       *slog.Logger
	Metrics      Metrics
}

// Service は管理者セッションの発行と検証を行う。
type Service struct {
	tokens      *TokenIssuer
	users       repository.AdminUserRepository
	activity    repository.ActivityLogRepository
	credentials CredentialVerifier
	oauth       OAuthProvider
	mode        DegradedMode
	logger      *slog.Logger
	metrics     Metrics
	now         func() time.Time

	wg sync.WaitGroup
}

// NewService はServiceを生成する。
// oauthがnilの場合、Googleログインは無効になる。
func NewService(
	tokens *TokenIssuer,
	users repository.AdminUserRepository,
	activity repository.ActivityLogRepository,
	credentials CredentialVerifier,
	oauth OAuthProvider,
	config ServiceConfig,
) *Service {
	if config.DegradedMode == "" {
		config.DegradedMode = DegradedModeClaimsFallback
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = nopMetrics{}
	}
	return &Service{
		tokens:      tokens,
		users:       users,
		activity:    activity,
		credentials: credentials,
		oauth:       oauth,
		mode:        config.DegradedMode,
		logger:      config.Logger,
		metrics:     config.Metrics,
		now:         time.Now,
	}
}

// GoogleEnabled はGoogleログインが利用可能かを返す。
func (s *Service) GoogleEnabled() bool {
	return s.oauth != nil
}

// GetLoginURL はGoogleの認証URLを生成する。
func (s *Service) GetLoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", ErrGoogleDisabled
	}
	return s.oauth.GetLoginURL(state), nil
}

// AuthenticateWithCredentials はメールアドレスとパスワードで認証し、セッションを発行する。
// 認証情報が誤っている場合はnil, nilを返す。
func (s *Service) AuthenticateWithCredentials(ctx context.Context, email, password string) (*model.AdminSession, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.metrics.RecordAuthAttempt("password", "failure")
		return nil, nil
	}

	user, err := s.credentials.VerifyCredentials(ctx, email, password)
	if err != nil {
		s.metrics.RecordAuthAttempt("password", "error")
		return nil, fmt.Errorf("failed to verify credentials: %w", err)
	}
	if user == nil || !user.IsActive {
		s.metrics.RecordAuthAttempt("password", "failure")
		logger.Audit(ctx, s.logger, slog.LevelInfo, "auth_login_failed", slog.String("method", "password"))
		return nil, nil
	}

	session, err := s.tokens.IssuePair(user)
	if err != nil {
		s.metrics.RecordAuthAttempt("password", "error")
		return nil, err
	}

	s.metrics.RecordAuthAttempt("password", "success")
	logger.Audit(ctx, s.logger, slog.LevelInfo, "auth_login",
		slog.String("method", "password"),
		slog.String("admin_user_id", user.ID),
	)
	s.recordLogin(ctx, user, "", model.ActivityLogin, map[string]any{"method": "password"})
	return session, nil
}

// AuthenticateWithGoogle はGoogleのIDトークンで認証し、セッションを発行する。
// 事前登録された管理者に紐付かないsubjectはnil, nilを返し、管理者を自動作成することはない。
func (s *Service) AuthenticateWithGoogle(ctx context.Context, idToken string) (*model.AdminSession, error) {
	if s.oauth == nil {
		return nil, ErrGoogleDisabled
	}
	if idToken == "" {
		s.metrics.RecordAuthAttempt("google", "failure")
		return nil, nil
	}

	info, err := s.oauth.VerifyIDToken(ctx, idToken)
	if err != nil {
		s.metrics.RecordAuthAttempt("google", "failure")
		s.logger.Info("google id token rejected", slog.String("error", err.Error()))
		return nil, nil
	}
	return s.loginGoogle(ctx, info)
}

// HandleGoogleCallback はOAuthコールバックの認可コードを処理し、セッションを発行する。
// IDトークンにpictureが無い場合はuserinfoから補完する。
// 事前登録されていないアカウントの場合はGoogle側のトークンを失効させてnil, nilを返す。
func (s *Service) HandleGoogleCallback(ctx context.Context, code string) (*model.AdminSession, error) {
	if s.oauth == nil {
		return nil, ErrGoogleDisabled
	}
	if code == "" {
		s.metrics.RecordAuthAttempt("google", "failure")
		return nil, nil
	}

	tokens, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		s.metrics.RecordAuthAttempt("google", "error")
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	info, err := s.oauth.VerifyIDToken(ctx, tokens.IDToken)
	if err != nil {
		s.metrics.RecordAuthAttempt("google", "failure")
		s.logger.Warn("google id token from code exchange rejected", slog.String("error", err.Error()))
		return nil, nil
	}

	if info.Picture == "" && tokens.AccessToken != "" {
		extra, err := s.oauth.FetchUserInfo(ctx, tokens.AccessToken)
		switch {
		case err != nil:
			s.logger.Debug("google userinfo fetch failed", slog.String("error", err.Error()))
		case extra.Subject == info.Subject:
			info.Picture = extra.Picture
		}
	}

	session, err := s.loginGoogle(ctx, info)
	if err != nil || session != nil {
		return session, err
	}

	revoke := tokens.RefreshToken
	if revoke == "" {
		revoke = tokens.AccessToken
	}
	if revoke != "" {
		if err := s.oauth.RevokeToken(ctx, revoke); err != nil {
			s.logger.Warn("failed to revoke google token", slog.String("error", err.Error()))
		}
	}
	return nil, nil
}

func (s *Service) loginGoogle(ctx context.Context, info *OAuthUserInfo) (*model.AdminSession, error) {
	user, err := s.users.FindActiveByIdentity(ctx, ProviderGoogle, info.Subject)
	if err != nil {
		s.metrics.RecordAuthAttempt("google", "error")
		return nil, fmt.Errorf("failed to find admin by identity: %w", err)
	}
	if user == nil || !user.IsActive {
		s.metrics.RecordAuthAttempt("google", "failure")
		logger.Audit(ctx, s.logger, slog.LevelWarn, "auth_google_unprovisioned",
			slog.String("provider_subject", info.Subject),
			slog.String("email", info.Email),
		)
		return nil, nil
	}

	if info.Picture != "" {
		user.AvatarURL = info.Picture
	}
	session, err := s.tokens.IssuePair(user)
	if err != nil {
		s.metrics.RecordAuthAttempt("google", "error")
		return nil, err
	}

	s.metrics.RecordAuthAttempt("google", "success")
	logger.Audit(ctx, s.logger, slog.LevelInfo, "auth_login",
		slog.String("method", "google"),
		slog.String("admin_user_id", user.ID),
	)
	s.recordLogin(ctx, user, info.Picture, model.ActivityLoginGoogle, map[string]any{"method": "google"})
	return session, nil
}

// VerifySession はアクセストークンを検証し、ストアから管理者を再取得して返す。
// 署名不正、期限切れ、管理者が無効または存在しない場合はnil, nilを返す。
// ストアに到達できない場合はDegradedModeに従う。
// 行を読めたが内容が不正な場合はモードに関係なくエラーを返す。
func (s *Service) VerifySession(ctx context.Context, accessToken string) (*model.AdminUser, error) {
	if accessToken == "" {
		return nil, nil
	}

	claims, err := s.tokens.ParseAccess(accessToken)
	if err != nil {
		s.logger.Debug("access token rejected", slog.String("error", err.Error()))
		return nil, nil
	}

	user, err := s.users.FindActiveByID(ctx, claims.Subject)
	if errors.Is(err, repository.ErrInvalidRow) {
		// ストアは応答しているので、古いクレームでは受け入れない
		logger.Audit(ctx, s.logger, slog.LevelError, "admin_row_invalid",
			slog.String("admin_user_id", claims.Subject),
			slog.String("token_id", claims.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to load admin user: %w", err)
	}
	if err != nil {
		if s.mode != DegradedModeClaimsFallback {
			return nil, fmt.Errorf("failed to load admin user: %w", err)
		}
		s.metrics.RecordDegradedSession()
		logger.Audit(ctx, s.logger, slog.LevelWarn, "auth_degraded_mode",
			slog.String("mode", string(s.mode)),
			slog.String("admin_user_id", claims.Subject),
			slog.String("token_id", claims.ID),
			slog.String("error", err.Error()),
		)
		return claims.AdminUser(), nil
	}
	if user == nil || !user.IsActive {
		return nil, nil
	}
	return user, nil
}

// RefreshSession はリフレッシュトークンを検証し、新しいトークンの組を発行する。
// refresh用audienceを持たないトークン、無効な管理者はnil, nilを返す。
// ストア障害時はクレームで代替せずエラーを返す。
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*model.AdminSession, error) {
	if refreshToken == "" {
		return nil, nil
	}

	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		s.metrics.RecordAuthAttempt("refresh", "failure")
		s.logger.Debug("refresh token rejected", slog.String("error", err.Error()))
		return nil, nil
	}

	user, err := s.users.FindActiveByID(ctx, claims.Subject)
	if err != nil {
		s.metrics.RecordAuthAttempt("refresh", "error")
		return nil, fmt.Errorf("failed to load admin user: %w", err)
	}
	if user == nil || !user.IsActive {
		s.metrics.RecordAuthAttempt("refresh", "failure")
		return nil, nil
	}

	session, err := s.tokens.IssuePair(user)
	if err != nil {
		s.metrics.RecordAuthAttempt("refresh", "error")
		return nil, err
	}
	s.metrics.RecordAuthAttempt("refresh", "success")
	s.RecordActivity(ctx, user.ID, model.ActivityRefresh, nil)
	return session, nil
}

// RecordActivity は操作ログを非同期で書き込む。失敗しても呼び出し元には影響しない。
func (s *Service) RecordActivity(ctx context.Context, adminUserID, action string, details map[string]any) {
	entry := &model.ActivityLog{
		ID:          uuid.New().String(),
		AdminUserID: adminUserID,
		Action:      action,
		Details:     details,
		CreatedAt:   s.now(),
	}
	s.background(ctx, "activity_log", func(ctx context.Context) error {
		return s.activity.Create(ctx, entry)
	})
}

// Close は実行中の非同期書き込みの完了を待つ。
func (s *Service) Close() {
	s.wg.Wait()
}

func (s *Service) recordLogin(ctx context.Context, user *model.AdminUser, avatarURL, action string, details map[string]any) {
	at := s.now()
	s.background(ctx, "last_login", func(ctx context.Context) error {
		return s.users.UpdateLastLogin(ctx, user.ID, at, avatarURL)
	})
	s.RecordActivity(ctx, user.ID, action, details)
}

// background はfnをリクエストのキャンセルから切り離して実行する。
func (s *Service) background(ctx context.Context, kind string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundWriteTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.metrics.RecordBackgroundWriteFailure(kind)
			s.logger.Warn("background write failed",
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		}
	}()
}
