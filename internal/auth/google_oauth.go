package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const (
	googleIssuer             = "https://accounts.google.com"
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	defaultGoogleRevokeURL   = "https://oauth2.googleapis.com/revoke"
	defaultGoogleCertsURL    = "https://www.googleapis.com/oauth2/v3/certs"
)

// ProviderGoogle はadmin_identities.providerに格納するGoogleの識別子。
const ProviderGoogle = "google"

// OAuthUserInfo はIDトークンまたはuserinfoから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Picture       string
}

// OAuthTokens は認可コード交換で得たトークンの組。
type OAuthTokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
}

// OAuthProvider はOAuth/OIDCプロバイダーのインターフェース。
// Serviceにはコンストラクタで渡し、テストではフェイクに差し替える。
type OAuthProvider interface {
	// GetLoginURL は認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換する。
	ExchangeCode(ctx context.Context, code string) (*OAuthTokens, error)
	// VerifyIDToken はIDトークンの署名、issuer、audience、期限を検証する。
	VerifyIDToken(ctx context.Context, rawIDToken string) (*OAuthUserInfo, error)
	// FetchUserInfo はアクセストークンでuserinfoを取得する。
	FetchUserInfo(ctx context.Context, accessToken string) (*OAuthUserInfo, error)
	// RevokeToken はトークンを失効させる。
	RevokeToken(ctx context.Context, token string) error
}

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	RevokeURL   string
	CertsURL    string

	// HTTPClient はトークン交換、userinfo、失効、JWKS取得に使用する。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
	// KeySet はIDトークンの署名検証鍵。nilの場合はCertsURLから取得する。
	KeySet oidc.KeySet
	// Now はIDトークンの期限判定に使う現在時刻。nilの場合はtime.Now。
	Now func() time.Time
}

// GoogleOAuthProvider はGoogle OAuth 2.0 / OpenID Connectによる認証を提供する。
type GoogleOAuthProvider struct {
	oauth       *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	client      *http.Client
	userInfoURL string
	revokeURL   string
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	if config.RevokeURL == "" {
		config.RevokeURL = defaultGoogleRevokeURL
	}
	if config.CertsURL == "" {
		config.CertsURL = defaultGoogleCertsURL
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	keySet := config.KeySet
	if keySet == nil {
		keySet = oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), client), config.CertsURL)
	}

	return &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier: oidc.NewVerifier(googleIssuer, keySet, &oidc.Config{
			ClientID: config.ClientID,
			Now:      config.Now,
		}),
		client:      client,
		userInfoURL: config.UserInfoURL,
		revokeURL:   config.RevokeURL,
	}
}

// GetLoginURL はGoogleの認証URLを生成する。
// オフラインアクセスと同意画面の再表示を常に要求する。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode は認可コードをトークンに交換する。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthTokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google token exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, errors.New("google did not return id_token")
	}

	return &OAuthTokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		IDToken:      rawIDToken,
	}, nil
}

// VerifyIDToken はIDトークンを検証してユーザー情報を返す。
func (p *GoogleOAuthProvider) VerifyIDToken(ctx context.Context, rawIDToken string) (*OAuthUserInfo, error) {
	idToken, err := p.verifier.Verify(oidc.ClientContext(ctx, p.client), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("google id_token verification failed: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("google id_token claims parse failed: %w", err)
	}
	if idToken.Subject == "" {
		return nil, errors.New("google id_token missing subject")
	}

	return &OAuthUserInfo{
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Picture:       claims.Picture,
	}, nil
}

// googleUserInfo はGoogleのuserinfoエンドポイントのレスポンス。
type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// FetchUserInfo はアクセストークンでGoogleのユーザー情報を取得する。
func (p *GoogleOAuthProvider) FetchUserInfo(ctx context.Context, accessToken string) (*OAuthUserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var info googleUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse user info response: %w", err)
	}

	if info.Sub == "" {
		return nil, errors.New("empty sub in user info response")
	}

	return &OAuthUserInfo{
		Subject:       info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
		Picture:       info.Picture,
	}, nil
}

// RevokeToken はGoogleのトークンを失効させる。
func (p *GoogleOAuthProvider) RevokeToken(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("revoke failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// compile-time interface check
var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
