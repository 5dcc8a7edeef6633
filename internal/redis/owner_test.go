package redis

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestOwnerStore_EmptyByDefault(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	owners := NewOwnerStore(client, zap.NewNop())

	owner, err := owners.Get(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if owner != "" {
		t.Fatalf("expected no owner, got %q", owner)
	}
}

func TestOwnerStore_SetGetClear(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	owners := NewOwnerStore(client, zap.NewNop())
	ctx := context.Background()

	if err := owners.Set(ctx, "user-42"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	owner, err := owners.Get(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if owner != "user-42" {
		t.Fatalf("expected user-42, got %q", owner)
	}

	// A later set replaces, it does not stack.
	if err := owners.Set(ctx, "user-7"); err != nil {
		t.Fatalf("second set failed: %v", err)
	}
	owner, err = owners.Get(ctx)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if owner != "user-7" {
		t.Fatalf("expected user-7, got %q", owner)
	}

	if err := owners.Clear(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	owner, err = owners.Get(ctx)
	if err != nil {
		t.Fatalf("get after clear failed: %v", err)
	}
	if owner != "" {
		t.Fatalf("expected no owner after clear, got %q", owner)
	}

	// Clearing again is a no-op.
	if err := owners.Clear(ctx); err != nil {
		t.Fatalf("idempotent clear failed: %v", err)
	}
}
