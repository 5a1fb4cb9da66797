package auth

import (
	"context"
	"testing"
	"time"
)

func newTestIssuer(secret string) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(secret),
		Issuer:        "teamcore-auth",
		Audience:      "teamcore-api",
		TokenTTL:      30 * time.Minute,
	})
}

func TestTokenIssuerRoundTrip(t *testing.T) {
	issuer := newTestIssuer("super-secret")

	tokenString, expiresIn, err := issuer.IssueToken(context.Background(), Identity{
		MemberID: "member-123",
		Name:     "Asha Rao",
		Role:     RoleAdmin,
	})
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}
	if expiresIn <= 0 {
		t.Fatalf("expected positive expiry seconds, got %d", expiresIn)
	}

	identity, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected token to validate: %v", err)
	}
	if identity.MemberID != "member-123" {
		t.Fatalf("unexpected subject %s", identity.MemberID)
	}
	if identity.Name != "Asha Rao" {
		t.Fatalf("unexpected name %s", identity.Name)
	}
	if !identity.IsAdmin() {
		t.Fatalf("expected admin role, got %s", identity.Role)
	}
}

func TestTokenIssuerDefaultsRole(t *testing.T) {
	issuer := newTestIssuer("super-secret")

	tokenString, _, err := issuer.IssueToken(context.Background(), Identity{MemberID: "member-9"})
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	identity, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if identity.Role != RoleMember || identity.IsAdmin() {
		t.Fatalf("expected default member role, got %s", identity.Role)
	}
}

func TestTokenIssuerRejectsMissingSubject(t *testing.T) {
	issuer := newTestIssuer("super-secret")

	if _, _, err := issuer.IssueToken(context.Background(), Identity{}); err == nil {
		t.Fatal("expected error for missing member id")
	}
}

func TestTokenIssuerRejectsForeignSignature(t *testing.T) {
	issuer := newTestIssuer("secret-a")
	other := newTestIssuer("secret-b")

	tokenString, _, err := issuer.IssueToken(context.Background(), Identity{MemberID: "member-1"})
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if _, err := other.ValidateToken(tokenString); err == nil {
		t.Fatal("expected validation to fail under a different secret")
	}
}

func TestTokenIssuerRejectsExpiredTokens(t *testing.T) {
	issued := time.Unix(1750000000, 0).UTC()
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "teamcore-auth",
		Audience:      "teamcore-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issued },
	})

	tokenString, _, err := issuer.IssueToken(context.Background(), Identity{MemberID: "member-1"})
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	later := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("super-secret"),
		Issuer:        "teamcore-auth",
		Audience:      "teamcore-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return issued.Add(2 * time.Minute) },
	})
	if _, err := later.ValidateToken(tokenString); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}
