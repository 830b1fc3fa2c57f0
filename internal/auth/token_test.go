package auth

import (
	"errors"
	"testing"
	"time"

	"teamboard/api/internal/store"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	claims := ClaimsFor(store.Profile{
		ID:          "p1",
		DisplayName: "Alice",
		Role:        store.RoleMember,
	}, time.Hour)

	issued, err := IssueToken(secret, claims)
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	parsed, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if parsed.Sub != "p1" || parsed.Name != "Alice" || parsed.Role != store.RoleMember {
		t.Fatalf("unexpected claims: %+v", parsed)
	}
	if parsed.JTI == "" {
		t.Fatal("expected a generated token ID")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:  "p1",
		Name: "Alice",
		Role: store.RoleMember,
		JTI:  "jti-1",
		Exp:  time.Now().Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want expired", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, ClaimsFor(store.Profile{
		ID:          "p1",
		DisplayName: "Alice",
		Role:        store.RoleViewer,
	}, time.Hour))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}

	if _, err := ParseToken([]byte("other"), issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: error = %v, want invalid", err)
	}
	if _, err := ParseToken(secret, issued+"x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("mangled signature: error = %v, want invalid", err)
	}
}
