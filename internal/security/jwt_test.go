package security_test

import (
	"testing"
	"time"

	"github.com/Rrens/sales-copilot/internal/security"
)

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	manager := security.NewJWTManager("test-secret-key-with-32-chars!!", 15*time.Minute, "")

	token, expiresAt, err := manager.GenerateToken("rep-042", "rep@example.com")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if token == "" {
		t.Error("token is empty")
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("expiry should be in the future, got %v", expiresAt)
	}

	claims, err := manager.ValidateToken(token)
	if err != nil {
		t.Fatalf("failed to validate token: %v", err)
	}
	if claims.UserID != "rep-042" {
		t.Errorf("user ID mismatch: got %v, want %v", claims.UserID, "rep-042")
	}
	if claims.Email != "rep@example.com" {
		t.Errorf("email mismatch: got %v", claims.Email)
	}
}

func TestJWTManager_Audience(t *testing.T) {
	signer := security.NewJWTManager("test-secret-key-with-32-chars!!", time.Minute, "agent-runtime")
	token, _, err := signer.GenerateToken("svc", "")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}

	if _, err := signer.ValidateToken(token); err != nil {
		t.Errorf("same audience should validate: %v", err)
	}

	other := security.NewJWTManager("test-secret-key-with-32-chars!!", time.Minute, "somewhere-else")
	if _, err := other.ValidateToken(token); err == nil {
		t.Error("expected audience mismatch error, got nil")
	}
}

func TestJWTManager_InvalidToken(t *testing.T) {
	manager := security.NewJWTManager("test-secret-key-with-32-chars!!", 15*time.Minute, "")

	if _, err := manager.ValidateToken("invalid-token"); err == nil {
		t.Error("expected error for invalid token, got nil")
	}

	if _, err := manager.ValidateToken(""); err == nil {
		t.Error("expected error for empty token, got nil")
	}

	otherManager := security.NewJWTManager("different-secret-key-32-chars!!", 15*time.Minute, "")
	token, _, _ := otherManager.GenerateToken("someone", "")
	if _, err := manager.ValidateToken(token); err == nil {
		t.Error("expected error for token signed with different secret, got nil")
	}
}

func TestJWTManager_Expired(t *testing.T) {
	manager := security.NewJWTManager("test-secret-key-with-32-chars!!", -time.Minute, "")
	token, _, err := manager.GenerateToken("rep-042", "")
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	if _, err := manager.ValidateToken(token); err == nil {
		t.Error("expected error for expired token, got nil")
	}
}
