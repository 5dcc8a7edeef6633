package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// ledgerTTL bounds ledger growth: a scare nobody has dismissed or
	// re-triggered in 30 days is stale enough to forget.
	ledgerTTL = 30 * 24 * time.Hour

	// claimTTL bounds an abandoned claim. A winner that dies before the
	// dismissal must not suppress the sticker everywhere for a month; the
	// claim expires and the scare becomes claimable again.
	claimTTL = 10 * time.Minute

	ledgerResolved = "resolved"
	ledgerClaimed  = "claimed"
)

// Ledger is the cross-tab dedup ledger. The key is the sticker's image
// identity; once marked resolved, no tab re-presents that jump-scare.
//
// Claim exists because the deferred-trigger pattern creates a window where
// two tabs both passed their pre-arm check: the claim is an atomic SET NX, so
// only one tab wins the right to present. The losing tab cancels silently.
type Ledger struct {
	client *Client
	logger *zap.Logger
}

// NewLedger creates a ledger over the shared store.
func NewLedger(client *Client, logger *zap.Logger) *Ledger {
	return &Ledger{client: client, logger: logger}
}

func (l *Ledger) buildKey(imageKey string) string {
	return fmt.Sprintf("ledger:%s", imageKey)
}

// IsResolved reports whether the key has been marked resolved. Absent keys
// and claimed-but-undismissed keys both read as unresolved.
func (l *Ledger) IsResolved(ctx context.Context, imageKey string) (bool, error) {
	val, err := l.client.rdb.Get(ctx, l.buildKey(imageKey)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	return val == ledgerResolved, nil
}

// Claim atomically takes the right to present the jump-scare for this key.
// Returns true for exactly one caller; everyone else must cancel. A key that
// is already resolved can never be claimed again.
func (l *Ledger) Claim(ctx context.Context, imageKey string) (bool, error) {
	set, err := l.client.rdb.SetNX(ctx, l.buildKey(imageKey), ledgerClaimed, claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	if set {
		l.logger.Debug("jump-scare claimed", zap.String("image_key", imageKey))
	}
	return set, nil
}

// MarkResolved idempotently records the user's dismissal. Visible to every
// tab's subsequent IsResolved check.
func (l *Ledger) MarkResolved(ctx context.Context, imageKey string) error {
	if err := l.client.rdb.Set(ctx, l.buildKey(imageKey), ledgerResolved, ledgerTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	l.logger.Info("jump-scare resolved", zap.String("image_key", imageKey))
	return nil
}
