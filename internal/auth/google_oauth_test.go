package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

const testClientID = "test-client-id.apps.googleusercontent.com"

// newTestSigningKey はIDトークン署名用のRSA鍵と、それを検証するKeySetを返す。
func newTestSigningKey(t *testing.T) (*rsa.PrivateKey, oidc.KeySet) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate rsa key: %v", err)
	}
	return key, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
}

// signIDToken はGoogle形式のIDトークンをRS256で署名する。
func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	base := jwt.MapClaims{
		"iss": "https://accounts.google.com",
		"aud": testClientID,
		"sub": "google-sub-12345",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range claims {
		base[k] = v
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, base).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign id token: %v", err)
	}
	return signed
}

func TestGoogleOAuthProvider_GetLoginURL_ContainsRequiredParams(t *testing.T) {
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:    testClientID,
		RedirectURL: "http://localhost:8080/api/admin/auth/google/callback",
		KeySet:      &oidc.StaticKeySet{},
	})

	loginURL := provider.GetLoginURL("test-state-value")

	tests := []struct {
		name     string
		contains string
	}{
		{"client_id", "client_id=" + testClientID},
		{"redirect_uri", "redirect_uri="},
		{"state", "state=test-state-value"},
		{"response_type", "response_type=code"},
		{"scope email", "email"},
		{"scope profile", "profile"},
		{"offline access", "access_type=offline"},
		{"forced consent", "prompt=consent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(loginURL, tt.contains) {
				t.Errorf("URL should contain %q, got %q", tt.contains, loginURL)
			}
		})
	}
}

func TestGoogleOAuthProvider_ExchangeCode_ReturnsIDToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		if r.Form.Get("code") != "auth-code" {
			t.Errorf("code = %q, want %q", r.Form.Get("code"), "auth-code")
		}
		if r.Form.Get("grant_type") != "authorization_code" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		if r.Form.Get("client_id") != testClientID {
			t.Errorf("client_id = %q", r.Form.Get("client_id"))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "google-access-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "google-refresh-token",
			"id_token":      "raw-id-token",
		})
	}))
	defer tokenServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID:     testClientID,
		ClientSecret: "test-client-secret",
		RedirectURL:  "http://localhost:8080/api/admin/auth/google/callback",
		TokenURL:     tokenServer.URL,
		KeySet:       &oidc.StaticKeySet{},
	})

	tokens, err := provider.ExchangeCode(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if tokens.AccessToken != "google-access-token" {
		t.Errorf("AccessToken = %q", tokens.AccessToken)
	}
	if tokens.RefreshToken != "google-refresh-token" {
		t.Errorf("RefreshToken = %q", tokens.RefreshToken)
	}
	if tokens.IDToken != "raw-id-token" {
		t.Errorf("IDToken = %q", tokens.IDToken)
	}
}

func TestGoogleOAuthProvider_ExchangeCode_MissingIDToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "google-access-token",
			"token_type":   "Bearer",
		})
	}))
	defer tokenServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID: testClientID, TokenURL: tokenServer.URL, KeySet: &oidc.StaticKeySet{},
	})

	if _, err := provider.ExchangeCode(context.Background(), "auth-code"); err == nil {
		t.Fatal("expected error when id_token is missing")
	}
}

func TestGoogleOAuthProvider_ExchangeCode_TokenEndpointError(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer tokenServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID: testClientID, TokenURL: tokenServer.URL, KeySet: &oidc.StaticKeySet{},
	})

	if _, err := provider.ExchangeCode(context.Background(), "invalid-code"); err == nil {
		t.Fatal("expected error from ExchangeCode with invalid code")
	}
}

func TestGoogleOAuthProvider_VerifyIDToken_Valid(t *testing.T) {
	key, keySet := newTestSigningKey(t)
	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{ClientID: testClientID, KeySet: keySet})

	raw := signIDToken(t, key, jwt.MapClaims{
		"email":          "owner@example.com",
		"email_verified": true,
		"name":           "オーナー",
		"picture":        "https://lh3.googleusercontent.com/a/photo",
	})

	info, err := provider.VerifyIDToken(context.Background(), raw)
	if err != nil {
		t.Fatalf("VerifyIDToken: %v", err)
	}
	if info.Subject != "google-sub-12345" {
		t.Errorf("Subject = %q, want %q", info.Subject, "google-sub-12345")
	}
	if info.Email != "owner@example.com" || !info.EmailVerified {
		t.Errorf("Email = %q verified=%v", info.Email, info.EmailVerified)
	}
	if info.Picture != "https://lh3.googleusercontent.com/a/photo" {
		t.Errorf("Picture = %q", info.Picture)
	}
}

func TestGoogleOAuthProvider_VerifyIDToken_Rejects(t *testing.T) {
	key, keySet := newTestSigningKey(t)
	otherKey, _ := newTestSigningKey(t)

	tests := []struct {
		name string
		raw  func() string
	}{
		{"別クライアント宛て", func() string { return signIDToken(t, key, jwt.MapClaims{"aud": "another-client"}) }},
		{"issuerが異なる", func() string { return signIDToken(t, key, jwt.MapClaims{"iss": "https://evil.example.com"}) }},
		{"期限切れ", func() string {
			return signIDToken(t, key, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
		}},
		{"別の鍵で署名", func() string { return signIDToken(t, otherKey, nil) }},
		{"形式不正", func() string { return "not-a-jwt" }},
	}

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{ClientID: testClientID, KeySet: keySet})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := provider.VerifyIDToken(context.Background(), tt.raw()); err == nil {
				t.Error("expected verification error")
			}
		})
	}
}

func TestGoogleOAuthProvider_FetchUserInfo(t *testing.T) {
	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer google-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sub":     "google-sub-12345",
			"email":   "owner@example.com",
			"name":    "オーナー",
			"picture": "https://lh3.googleusercontent.com/a/photo",
		})
	}))
	defer userInfoServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID: testClientID, UserInfoURL: userInfoServer.URL, KeySet: &oidc.StaticKeySet{},
	})

	info, err := provider.FetchUserInfo(context.Background(), "google-access-token")
	if err != nil {
		t.Fatalf("FetchUserInfo: %v", err)
	}
	if info.Subject != "google-sub-12345" || info.Picture == "" {
		t.Errorf("info = %+v", info)
	}

	if _, err := provider.FetchUserInfo(context.Background(), "wrong-token"); err == nil {
		t.Error("expected error for unauthorized userinfo request")
	}
}

func TestGoogleOAuthProvider_RevokeToken(t *testing.T) {
	var revoked string
	revokeServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		r.ParseForm()
		revoked = r.Form.Get("token")
		if revoked == "already-revoked" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer revokeServer.Close()

	provider := NewGoogleOAuthProvider(GoogleOAuthConfig{
		ClientID: testClientID, RevokeURL: revokeServer.URL, KeySet: &oidc.StaticKeySet{},
	})

	if err := provider.RevokeToken(context.Background(), "google-refresh-token"); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if revoked != "google-refresh-token" {
		t.Errorf("revoked token = %q", revoked)
	}
	if err := provider.RevokeToken(context.Background(), "already-revoked"); err == nil {
		t.Error("expected error for non-200 revoke response")
	}
}
