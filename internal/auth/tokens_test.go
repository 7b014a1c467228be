package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/vendsite/internal/model"
)

var testSecret = []byte("test-jwt-secret-must-be-32-bytes-long!")

func newTestIssuer() *TokenIssuer {
	return NewTokenIssuer(TokenConfig{
		Secret:     testSecret,
		Issuer:     "vendsite",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	})
}

func testAdmin() *model.AdminUser {
	return &model.AdminUser{
		ID:    "0b9d8f7e-1111-4a2b-9c3d-00000000000a",
		Email: "staff@example.com",
		Name:  "スタッフ",
		Role:  model.RoleAdmin,
		Permissions: []model.Permission{
			{Resource: "machines", Actions: []model.Action{model.ActionRead}},
		},
		IsActive: true,
	}
}

func TestTokenIssuer_IssuePair_RoundTrip(t *testing.T) {
	issuer := newTestIssuer()
	user := testAdmin()

	session, err := issuer.IssuePair(user)
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}
	if session.AccessToken == session.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}
	if !session.ExpiresAt.Before(session.RefreshExpiresAt) {
		t.Errorf("ExpiresAt %v should be before RefreshExpiresAt %v", session.ExpiresAt, session.RefreshExpiresAt)
	}

	claims, err := issuer.ParseAccess(session.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	if claims.Subject != user.ID {
		t.Errorf("Subject = %q, want %q", claims.Subject, user.ID)
	}
	if claims.Role != model.RoleAdmin {
		t.Errorf("Role = %q, want %q", claims.Role, model.RoleAdmin)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0].Resource != "machines" {
		t.Errorf("Permissions = %+v", claims.Permissions)
	}
	if claims.ID == "" {
		t.Error("jti should be set")
	}

	if _, err := issuer.ParseRefresh(session.RefreshToken); err != nil {
		t.Fatalf("ParseRefresh: %v", err)
	}
}

func TestTokenIssuer_AudienceSeparatesTokenTypes(t *testing.T) {
	issuer := newTestIssuer()
	session, err := issuer.IssuePair(testAdmin())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	if _, err := issuer.ParseRefresh(session.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseRefresh(access) error = %v, want ErrInvalidToken", err)
	}
	if _, err := issuer.ParseAccess(session.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ParseAccess(refresh) error = %v, want ErrInvalidToken", err)
	}
}

func TestTokenIssuer_RejectsExpiredToken(t *testing.T) {
	issuer := newTestIssuer()
	issued := time.Now().Add(-time.Hour)
	issuer.now = func() time.Time { return issued }

	session, err := issuer.IssuePair(testAdmin())
	if err != nil {
		t.Fatalf("IssuePair: %v", err)
	}

	issuer.now = time.Now
	if _, err := issuer.ParseAccess(session.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired access token error = %v, want ErrInvalidToken", err)
	}
	// リフレッシュトークンは7日間有効なのでまだ使える
	if _, err := issuer.ParseRefresh(session.RefreshToken); err != nil {
		t.Errorf("refresh token should still be valid: %v", err)
	}
}

func TestTokenIssuer_RejectsForeignTokens(t *testing.T) {
	issuer := newTestIssuer()
	user := testAdmin()
	now := time.Now()

	baseClaims := func() *Claims {
		return &Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   user.ID,
				Issuer:    "vendsite",
				Audience:  jwt.ClaimStrings{AudienceAccess},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			},
			Role:        model.RoleAdmin,
			Permissions: []model.Permission{},
		}
	}

	sign := func(t *testing.T, method jwt.SigningMethod, claims *Claims, key []byte) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{"別の鍵で署名", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS256, baseClaims(), []byte("another-secret-that-is-32-bytes-long!!"))
		}},
		{"HS512で署名", func(t *testing.T) string {
			return sign(t, jwt.SigningMethodHS512, baseClaims(), testSecret)
		}},
		{"issuerが異なる", func(t *testing.T) string {
			c := baseClaims()
			c.Issuer = "someone-else"
			return sign(t, jwt.SigningMethodHS256, c, testSecret)
		}},
		{"有効期限なし", func(t *testing.T) string {
			c := baseClaims()
			c.ExpiresAt = nil
			return sign(t, jwt.SigningMethodHS256, c, testSecret)
		}},
		{"未知のロール", func(t *testing.T) string {
			c := baseClaims()
			c.Role = "root"
			return sign(t, jwt.SigningMethodHS256, c, testSecret)
		}},
		{"未知の操作", func(t *testing.T) string {
			c := baseClaims()
			c.Permissions = []model.Permission{{Resource: "machines", Actions: []model.Action{"admin"}}}
			return sign(t, jwt.SigningMethodHS256, c, testSecret)
		}},
		{"subjectなし", func(t *testing.T) string {
			c := baseClaims()
			c.Subject = ""
			return sign(t, jwt.SigningMethodHS256, c, testSecret)
		}},
		{"alg none", func(t *testing.T) string {
			s, err := jwt.NewWithClaims(jwt.SigningMethodNone, baseClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
			if err != nil {
				t.Fatalf("sign none: %v", err)
			}
			return s
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := issuer.ParseAccess(tt.token(t)); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestClaims_AdminUser_BuildsFromClaims(t *testing.T) {
	issuer := newTestIssuer()
	user := testAdmin()
	session, _ := issuer.IssuePair(user)

	claims, err := issuer.ParseAccess(session.AccessToken)
	if err != nil {
		t.Fatalf("ParseAccess: %v", err)
	}
	got := claims.AdminUser()
	if got.ID != user.ID || got.Email != user.Email || got.Role != user.Role {
		t.Errorf("AdminUser() = %+v, want %+v", got, user)
	}
	if !got.HasPermission("machines", model.ActionRead) {
		t.Error("permissions should survive the token round trip")
	}
}
