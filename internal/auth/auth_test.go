package auth

import (
	"context"
	"testing"
	"time"
)

func TestGenerateAndValidate(t *testing.T) {
	t.Setenv("GATEPASS_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	token, err := GenerateToken("user-42", true, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	claims, err := ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if !claims.Admin {
		t.Fatalf("admin flag was not preserved")
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	t.Setenv("GATEPASS_AUTH_SECRET", "test-secret")
	ResetSecretForTests()

	if _, err := ParseAndValidate("not-a-token"); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := ParseAndValidate(""); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestMissingSecret(t *testing.T) {
	t.Setenv("GATEPASS_AUTH_SECRET", "")
	ResetSecretForTests()

	if _, err := GenerateToken("user-1", false, time.Minute); err == nil {
		t.Fatalf("expected error when secret is not configured")
	}
	ResetSecretForTests()
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithUser(ctx, "user-7", true)
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	if !IsAdminFromContext(ctx) {
		t.Fatalf("expected admin context")
	}
	if IsAdminFromContext(context.Background()) {
		t.Fatalf("unexpected admin on empty context")
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "s3cret"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected mismatch error")
	}
}
