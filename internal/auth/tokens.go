package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/vendsite/internal/model"
)

// トークンのaudience。アクセストークンとリフレッシュトークンを区別する。
const (
	AudienceAccess  = "vendsite-admin"
	AudienceRefresh = "vendsite-refresh"
)

// ErrInvalidToken はトークンの署名、期限、issuer、audienceのいずれかが不正な場合に返す。
var ErrInvalidToken = errors.New("invalid token")

// Claims はアクセストークンとリフレッシュトークンに共通のクレーム。
// 権限は構造化された配列として格納する。
type Claims struct {
	jwt.RegisteredClaims
	Email       string             `json:"email"`
	Name        string             `json:"name"`
	Role        model.Role         `json:"role"`
	Permissions []model.Permission `json:"permissions"`
}

// Validate はjwt.ClaimsValidatorを実装する。
// 標準クレームの検証後に呼ばれ、ロールと権限が定義済みの値かを確認する。
func (c *Claims) Validate() error {
	if c.Subject == "" {
		return errors.New("subject is empty")
	}
	if !c.Role.Valid() {
		return fmt.Errorf("unknown role %q", c.Role)
	}
	return model.ValidatePermissions(c.Permissions)
}

// AdminUser はクレームから管理者を組み立てる。
// ストアに到達できない場合の縮退モードでのみ使用する。
func (c *Claims) AdminUser() *model.AdminUser {
	return &model.AdminUser{
		ID:          c.Subject,
		Email:       c.Email,
		Name:        c.Name,
		Role:        c.Role,
		Permissions: c.Permissions,
		IsActive:    true,
	}
}

// TokenConfig はTokenIssuerの設定。
type TokenConfig struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenIssuer はHS256で署名したアクセストークンとリフレッシュトークンを発行・検証する。
type TokenIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenIssuer はTokenIssuerを生成する。
func NewTokenIssuer(cfg TokenConfig) *TokenIssuer {
	return &TokenIssuer{
		secret:     cfg.Secret,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}
}

// IssuePair は管理者に対してアクセストークンとリフレッシュトークンの組を発行する。
func (i *TokenIssuer) IssuePair(user *model.AdminUser) (*model.AdminSession, error) {
	now := i.now().UTC()

	access, accessExp, err := i.issue(user, AudienceAccess, now, i.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, refreshExp, err := i.issue(user, AudienceRefresh, now, i.refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	return &model.AdminSession{
		User:             user,
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresAt:        accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *TokenIssuer) issue(user *model.AdminUser, audience string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	perms := user.Permissions
	if perms == nil {
		perms = []model.Permission{}
	}
	expiresAt := now.Add(ttl)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   user.ID,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:       user.Email,
		Name:        user.Name,
		Role:        user.Role,
		Permissions: perms,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccess はアクセストークンを検証してクレームを返す。
func (i *TokenIssuer) ParseAccess(token string) (*Claims, error) {
	return i.parse(token, AudienceAccess)
}

// ParseRefresh はリフレッシュトークンを検証してクレームを返す。
// アクセストークンはaudienceが異なるため拒否される。
func (i *TokenIssuer) ParseRefresh(token string) (*Claims, error) {
	return i.parse(token, AudienceRefresh)
}

func (i *TokenIssuer) parse(token, audience string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (interface{}, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
