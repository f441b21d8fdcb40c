package invite

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSaveAndLookupInvitation(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	tokenHash := "test-token-hash"
	data := TokenData{EmployeeID: "emp-123", Email: "new.hire@example.com", InvitedBy: "admin"}
	expiresAt := time.Now().Add(7 * 24 * time.Hour)

	if err := store.SaveInvitation(ctx, tokenHash, data, expiresAt); err != nil {
		t.Fatalf("SaveInvitation failed: %v", err)
	}

	got, err := store.LookupInvitation(ctx, tokenHash)
	if err != nil {
		t.Fatalf("LookupInvitation failed: %v", err)
	}

	if got.EmployeeID != "emp-123" {
		t.Errorf("expected employee ID emp-123, got %s", got.EmployeeID)
	}
	if got.Email != "new.hire@example.com" {
		t.Errorf("expected invite email new.hire@example.com, got %s", got.Email)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be populated")
	}
}

func TestLookupExpiredInvitation(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	tokenHash := "expired-token"

	expiresAt := time.Now().Add(1 * time.Millisecond)
	if err := store.SaveInvitation(ctx, tokenHash, TokenData{EmployeeID: "emp-456"}, expiresAt); err != nil {
		t.Fatalf("SaveInvitation failed: %v", err)
	}

	// Fast-forward time in miniredis
	s.FastForward(2 * time.Millisecond)

	if _, err := store.LookupInvitation(ctx, tokenHash); err == nil {
		t.Error("expected error for expired invitation, got nil")
	}
}

func TestLookupNonExistentInvitation(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	if _, err := store.LookupInvitation(ctx, "non-existent-token"); err == nil {
		t.Error("expected error for non-existent invitation, got nil")
	}
}

func TestRevokeInvitation(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	tokenHash := "token-to-revoke"
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.SaveInvitation(ctx, tokenHash, TokenData{EmployeeID: "emp-789"}, expiresAt); err != nil {
		t.Fatalf("SaveInvitation failed: %v", err)
	}

	if _, err := store.LookupInvitation(ctx, tokenHash); err != nil {
		t.Fatalf("Lookup before revoke failed: %v", err)
	}

	if err := store.RevokeInvitation(ctx, tokenHash); err != nil {
		t.Fatalf("RevokeInvitation failed: %v", err)
	}

	if _, err := store.LookupInvitation(ctx, tokenHash); err == nil {
		t.Error("expected error for revoked invitation, got nil")
	}
}

func TestRevokeNonExistentInvitation(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()

	if err := store.RevokeInvitation(ctx, "non-existent-token"); err != nil {
		t.Errorf("RevokeInvitation for non-existent token failed: %v", err)
	}
}

func TestInvitationIsolation(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	expiresAt := time.Now().Add(24 * time.Hour)

	if err := store.SaveInvitation(ctx, "token-1", TokenData{EmployeeID: "emp-1"}, expiresAt); err != nil {
		t.Fatalf("SaveInvitation 1 failed: %v", err)
	}
	if err := store.SaveInvitation(ctx, "token-2", TokenData{EmployeeID: "emp-2"}, expiresAt); err != nil {
		t.Fatalf("SaveInvitation 2 failed: %v", err)
	}

	if err := store.RevokeInvitation(ctx, "token-1"); err != nil {
		t.Fatalf("Revoke token-1 failed: %v", err)
	}

	if _, err := store.LookupInvitation(ctx, "token-1"); err == nil {
		t.Error("expected error for revoked token-1, got nil")
	}

	got, err := store.LookupInvitation(ctx, "token-2")
	if err != nil {
		t.Fatalf("Lookup token-2 after revoke failed: %v", err)
	}
	if got.EmployeeID != "emp-2" {
		t.Errorf("expected emp-2 after revoke, got %s", got.EmployeeID)
	}
}
