package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PGFeed implements Feed over Postgres LISTEN/NOTIFY. An insert trigger on
// the stickers table raises a notification on the per-recipient channel
// "stickers:<user-id>" with the row as JSON, so filtering happens server-side
// and this process only ever observes events addressed to the owner.
type PGFeed struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPGFeed creates a feed backed by the given pool. Each subscription
// hijacks one connection out of the pool for the lifetime of the channel.
func NewPGFeed(pool *pgxpool.Pool, logger *zap.Logger) *PGFeed {
	return &PGFeed{pool: pool, logger: logger}
}

// ChannelName returns the notification channel for a recipient. The migrator
// installs the trigger that notifies on exactly this name.
func ChannelName(userID string) string {
	return "stickers:" + userID
}

type pgSubscription struct {
	conn   *pgx.Conn
	cancel context.CancelFunc
}

func (s *pgSubscription) Close(ctx context.Context) error {
	s.cancel()
	return s.conn.Close(ctx)
}

// Subscribe opens a dedicated listening connection for userID. The handshake
// (LISTEN) happens synchronously; everything after is reported via onStatus.
func (f *PGFeed) Subscribe(ctx context.Context, userID string, onEvent func(Event), onStatus func(Status)) (Subscription, error) {
	poolConn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	// The connection leaves the pool for good: LISTEN state is
	// per-session and must not be handed to other borrowers.
	conn := poolConn.Hijack()

	listenSQL := fmt.Sprintf("LISTEN %s", pgx.Identifier{ChannelName(userID)}.Sanitize())
	if _, err := conn.Exec(ctx, listenSQL); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("listen on %s: %w", ChannelName(userID), err)
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	sub := &pgSubscription{conn: conn, cancel: cancel}

	go f.waitLoop(waitCtx, conn, userID, onEvent, onStatus)

	return sub, nil
}

func (f *PGFeed) waitLoop(ctx context.Context, conn *pgx.Conn, userID string, onEvent func(Event), onStatus func(Status)) {
	onStatus(StatusSubscribed)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || conn.IsClosed() {
				onStatus(StatusClosed)
				return
			}
			f.logger.Error("realtime channel error",
				zap.Error(err),
				zap.String("user_id", userID),
			)
			onStatus(StatusChannelError)
			return
		}

		var ev Event
		if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
			f.logger.Error("dropping undecodable sticker notification",
				zap.Error(err),
				zap.String("channel", notification.Channel),
			)
			continue
		}

		if ev.ImageURL == "" {
			f.logger.Warn("dropping sticker event without image url",
				zap.String("sticker_id", ev.ID.String()),
			)
			continue
		}

		// The trigger already filters by recipient; this guards against a
		// misconfigured channel only.
		if ev.RecipientID.String() != userID {
			f.logger.Warn("dropping sticker event for foreign recipient",
				zap.String("recipient_id", ev.RecipientID.String()),
				zap.String("owner_id", userID),
			)
			continue
		}

		onEvent(ev)
	}
}
