package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/hwledger/internal/model"
)

func TestNewJWTIssuer_Validation(t *testing.T) {
	if _, err := NewJWTIssuer("", "", time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := NewJWTIssuer("secret", "", 0); err == nil {
		t.Error("expected error for zero TTL")
	}
	issuer, err := NewJWTIssuer("secret", "", time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issuer.issuer != DefaultIssuer {
		t.Errorf("expected default issuer %q, got %q", DefaultIssuer, issuer.issuer)
	}
}

func TestJWTIssuer_IssueAndParse(t *testing.T) {
	issuer, err := NewJWTIssuer("secret", "hwledger-test", time.Hour)
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return fixed }

	token, err := issuer.Issue(&model.User{ID: "user-1", Username: "alice"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !token.ExpiresAt.Equal(fixed.Add(time.Hour)) {
		t.Errorf("unexpected expiry: %v", token.ExpiresAt)
	}

	p, err := issuer.Parse(token.Value)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Username != "alice" || p.UserID != "user-1" || p.TokenID != token.ID {
		t.Errorf("unexpected principal: %+v", p)
	}
	if !p.ExpiresAt.Equal(token.ExpiresAt) {
		t.Errorf("expected expiry %v, got %v", token.ExpiresAt, p.ExpiresAt)
	}
}

func TestJWTIssuer_UniqueTokenIDs(t *testing.T) {
	issuer, err := NewJWTIssuer("secret", "", time.Hour)
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}
	user := &model.User{ID: "user-1", Username: "alice"}

	a, _ := issuer.Issue(user)
	b, _ := issuer.Issue(user)
	if a.ID == b.ID {
		t.Error("expected distinct jti per token")
	}
}

func TestJWTIssuer_ParseRejects(t *testing.T) {
	issuer, err := NewJWTIssuer("secret", "hwledger", time.Hour)
	if err != nil {
		t.Fatalf("NewJWTIssuer: %v", err)
	}
	now := time.Now()

	sign := func(method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	valid := func() ledgerClaims {
		return ledgerClaims{
			UserID: "u1",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "alice",
				Issuer:    "hwledger",
				ID:        "jti-1",
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))

	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"

	noExpiry := valid()
	noExpiry.ExpiresAt = nil

	noSubject := valid()
	noSubject.Subject = ""

	noID := valid()
	noID.ID = ""

	tests := []struct {
		name  string
		token string
	}{
		{"期限切れ", sign(jwt.SigningMethodHS256, []byte("secret"), expired)},
		{"発行者不一致", sign(jwt.SigningMethodHS256, []byte("secret"), wrongIssuer)},
		{"有効期限なし", sign(jwt.SigningMethodHS256, []byte("secret"), noExpiry)},
		{"subなし", sign(jwt.SigningMethodHS256, []byte("secret"), noSubject)},
		{"jtiなし", sign(jwt.SigningMethodHS256, []byte("secret"), noID)},
		{"HS512署名", sign(jwt.SigningMethodHS512, []byte("secret"), valid())},
		{"alg=none", sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid())},
		{"鍵不一致", sign(jwt.SigningMethodHS256, []byte("other"), valid())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := issuer.Parse(tt.token); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}
