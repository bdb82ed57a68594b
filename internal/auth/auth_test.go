package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"rhythmflow.app/internal/booking"
)

func TestIssueAndParse(t *testing.T) {
	iss, err := NewIssuer("test-secret", WithIssuerName("test-issuer"))
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	token, expiresAt, err := iss.Issue("user-42", booking.RoleAdmin, 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiration, got %v", expiresAt)
	}

	claims, err := iss.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	p := claims.Principal()
	if p.UserID != "user-42" || !p.IsAdmin() {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestParseRejects(t *testing.T) {
	iss, _ := NewIssuer("secret-a")
	other, _ := NewIssuer("secret-b")
	past := time.Now().Add(-time.Hour)
	stale, _ := NewIssuer("secret-a", WithClock(func() time.Time { return past }))

	foreign, _, err := other.Issue("u1", booking.RoleStudent, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	expired, _, err := stale.Issue("u1", booking.RoleStudent, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"wrong secret": foreign,
		"expired":      expired,
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := iss.Parse(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestIssueValidation(t *testing.T) {
	if _, err := NewIssuer("  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
	iss, _ := NewIssuer("secret")
	if _, _, err := iss.Issue("", booking.RoleStudent, time.Minute); err == nil {
		t.Fatal("expected error for empty user")
	}
	if _, _, err := iss.Issue("u1", booking.RoleStudent, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
	if _, _, err := iss.Issue("u1", booking.Role("teacher"), time.Minute); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatal("unexpected principal in empty context")
	}
	ctx = ContextWithPrincipal(ctx, booking.Principal{UserID: "user-7", Role: booking.RoleStudent})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
}
