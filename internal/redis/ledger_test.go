package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}

	return client, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestLedger_UnknownKeyIsUnresolved(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := NewLedger(client, zap.NewNop())
	ctx := context.Background()

	resolved, err := ledger.IsResolved(ctx, "https://cdn.example/boo.png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved {
		t.Fatal("expected unknown key to read as unresolved")
	}
}

func TestLedger_ClaimWonOnce(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := NewLedger(client, zap.NewNop())
	ctx := context.Background()

	won, err := ledger.Claim(ctx, "img-1")
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if !won {
		t.Fatal("expected first claim to win")
	}

	won, err = ledger.Claim(ctx, "img-1")
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if won {
		t.Fatal("expected second claim to lose")
	}
}

func TestLedger_ClaimRace(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := NewLedger(client, zap.NewNop())
	ctx := context.Background()

	const tabs = 8
	var wg sync.WaitGroup
	wins := make(chan bool, tabs)

	for i := 0; i < tabs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := ledger.Claim(ctx, "img-race")
			if err != nil {
				t.Errorf("claim failed: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestLedger_ClaimedIsNotResolved(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := NewLedger(client, zap.NewNop())
	ctx := context.Background()

	if _, err := ledger.Claim(ctx, "img-2"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	resolved, err := ledger.IsResolved(ctx, "img-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved {
		t.Fatal("claimed key should not read as resolved until dismissed")
	}
}

func TestLedger_AbandonedClaimExpiresSoonerThanResolution(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := NewLedger(client, zap.NewNop())
	ctx := context.Background()

	if _, err := ledger.Claim(ctx, "img-ttl"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	claimTTL := client.rdb.TTL(ctx, "ledger:img-ttl").Val()
	if claimTTL <= 0 || claimTTL > 10*time.Minute {
		t.Fatalf("expected a short claim TTL, got %s", claimTTL)
	}

	if err := ledger.MarkResolved(ctx, "img-ttl"); err != nil {
		t.Fatalf("mark resolved failed: %v", err)
	}

	resolvedTTL := client.rdb.TTL(ctx, "ledger:img-ttl").Val()
	if resolvedTTL <= claimTTL {
		t.Fatalf("resolution must outlive a claim, got %s", resolvedTTL)
	}
}

func TestLedger_MarkResolved(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ledger := NewLedger(client, zap.NewNop())
	ctx := context.Background()

	if err := ledger.MarkResolved(ctx, "img-3"); err != nil {
		t.Fatalf("mark resolved failed: %v", err)
	}

	resolved, err := ledger.IsResolved(ctx, "img-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resolved {
		t.Fatal("expected key to read as resolved")
	}

	// Resolution survives, and blocks, later claims.
	won, err := ledger.Claim(ctx, "img-3")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if won {
		t.Fatal("resolved key must not be claimable")
	}

	// Marking again is a no-op, not an error.
	if err := ledger.MarkResolved(ctx, "img-3"); err != nil {
		t.Fatalf("second mark resolved failed: %v", err)
	}
}
