package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CooldownResult contains the result of a cooldown check.
type CooldownResult struct {
	Allowed bool
	// Wait is how long the sender must wait before the next scary send,
	// clamped at zero. Meaningful only when Allowed is false.
	Wait time.Duration
}

// Cooldown enforces the minimum interval between scary sends to the same
// recipient. State is local to this installation: a sender switching devices
// resets their own cooldown, which is a deliberate scope limit.
type Cooldown struct {
	client *Client
	logger *zap.Logger
	window time.Duration
}

// NewCooldown creates a cooldown gate with the given window.
func NewCooldown(client *Client, logger *zap.Logger, window time.Duration) *Cooldown {
	return &Cooldown{
		client: client,
		logger: logger,
		window: window,
	}
}

func (c *Cooldown) buildKey(recipientID string) string {
	return fmt.Sprintf("cooldown:%s", recipientID)
}

// CanSend reports whether a scary send to the recipient is allowed at `now`.
// The boundary is inclusive: exactly window elapsed means allowed.
func (c *Cooldown) CanSend(ctx context.Context, recipientID string, now time.Time) (*CooldownResult, error) {
	val, err := c.client.rdb.Get(ctx, c.buildKey(recipientID)).Result()
	if err == redis.Nil {
		return &CooldownResult{Allowed: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	lastMs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		// A corrupt stamp must not lock the sender out forever.
		c.logger.Warn("discarding malformed cooldown stamp",
			zap.String("recipient_id", recipientID),
			zap.String("value", val),
		)
		return &CooldownResult{Allowed: true}, nil
	}

	elapsed := now.Sub(time.UnixMilli(lastMs))
	if elapsed >= c.window {
		return &CooldownResult{Allowed: true}, nil
	}

	wait := c.window - elapsed
	if wait < 0 {
		wait = 0
	}

	c.logger.Debug("scary send denied by cooldown",
		zap.String("recipient_id", recipientID),
		zap.Duration("wait", wait),
	)

	return &CooldownResult{Allowed: false, Wait: wait}, nil
}

// RecordSend stamps the recipient's last scary send. Call only after the send
// is confirmed successful: a failed send must not consume the cooldown.
func (c *Cooldown) RecordSend(ctx context.Context, recipientID string, now time.Time) error {
	stamp := strconv.FormatInt(now.UnixMilli(), 10)
	// Keep the key a little past the window so an expired stamp simply
	// reads as absent.
	if err := c.client.rdb.Set(ctx, c.buildKey(recipientID), stamp, c.window+time.Minute).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
