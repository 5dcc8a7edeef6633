package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/poltergeistlabs/poltergeist/internal/metrics"
)

// State of the managed subscription's channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateJoined       State = "joined"
	StateErrored      State = "errored"
)

// OwnerStore persists the subscription owner across daemon restarts.
type OwnerStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, userID string) error
	Clear(ctx context.Context) error
}

// EventSink consumes inbound sticker events, one call per event.
type EventSink interface {
	OnStickerEvent(ctx context.Context, ev Event)
}

// Manager owns the single realtime subscription: at most one channel is open
// at any time, and starting for a new owner replaces the old channel rather
// than stacking a second one.
//
// Liveness: Run arms a fixed-period ticker (kept under the host's ~30s idle
// eviction budget). Each tick re-reads the persisted owner and, if an owner
// is recorded but the channel is not joined, starts over for that owner. The
// persisted owner, not in-memory state, drives the tick, so a stop that
// cleared it also cancels all future reconnects, and a freshly restarted
// daemon resumes from it on the first pass.
type Manager struct {
	logger   *zap.Logger
	feed     Feed
	owners   OwnerStore
	sink     EventSink
	interval time.Duration

	mu      sync.Mutex
	state   State
	ownerID string
	sub     Subscription
	gen     uint64 // invalidates status callbacks from replaced channels
}

// Config for the manager.
type Config struct {
	// KeepaliveInterval is the liveness check period.
	KeepaliveInterval time.Duration
}

// NewManager creates a subscription manager.
func NewManager(feed Feed, owners OwnerStore, sink EventSink, cfg Config, logger *zap.Logger) *Manager {
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = 24 * time.Second
	}

	return &Manager{
		logger:   logger,
		feed:     feed,
		owners:   owners,
		sink:     sink,
		interval: cfg.KeepaliveInterval,
		state:    StateDisconnected,
	}
}

// Start tears down any existing subscription and opens a new channel for
// userID, persisting the owner so the daemon can self-resume. The returned
// error covers initiation only; handshake failures surface asynchronously via
// the channel status stream and are repaired by the liveness tick.
func (m *Manager) Start(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("no user id provided")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(ctx, userID)
}

// startLocked persists the owner and opens the channel as one critical
// section: a liveness tick or competing start cannot observe the owner and the
// channel out of step, so whichever request settles last also leaves the last
// persisted owner. Callers hold m.mu.
func (m *Manager) startLocked(ctx context.Context, userID string) error {
	// Persist first: even if the subscribe below fails, the next liveness
	// tick retries for this owner.
	if err := m.owners.Set(ctx, userID); err != nil {
		return fmt.Errorf("persist subscription owner: %w", err)
	}

	m.teardownLocked(ctx)

	m.logger.Info("starting realtime subscription", zap.String("user_id", userID))

	m.state = StateConnecting
	m.ownerID = userID
	m.gen++
	gen := m.gen

	sub, err := m.feed.Subscribe(ctx, userID,
		func(ev Event) {
			m.logger.Info("sticker event received",
				zap.String("sticker_id", ev.ID.String()),
				zap.Bool("scary", ev.Scary),
			)
			m.sink.OnStickerEvent(context.Background(), ev)
		},
		func(status Status) {
			m.onStatus(gen, status)
		},
	)
	if err != nil {
		m.state = StateErrored
		return fmt.Errorf("subscribe for %s: %w", userID, err)
	}

	m.sub = sub
	return nil
}

// Stop closes the channel if open and clears the persisted owner, cancelling
// future reconnects. Idempotent: stopping with nothing active is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Clear and teardown happen in the same critical section the liveness
	// tick runs under, so a tick can never observe the owner gone but the
	// channel open, or vice versa.
	if err := m.owners.Clear(ctx); err != nil {
		return fmt.Errorf("clear subscription owner: %w", err)
	}

	if m.sub == nil && m.ownerID == "" {
		return nil
	}

	m.logger.Info("stopping realtime subscription", zap.String("user_id", m.ownerID))
	m.teardownLocked(ctx)
	return nil
}

// Status reports whether the subscription is joined and for which user.
func (m *Manager) Status() (joined bool, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateJoined, m.ownerID
}

// State returns the current channel state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run resumes a persisted subscription on cold start, then drives the
// liveness ticker until ctx is cancelled. Blocks; run it in a goroutine.
func (m *Manager) Run(ctx context.Context) {
	// Cold start: a recorded owner means the previous incarnation was
	// subscribed and nobody stopped it. Resume without waiting for an
	// explicit request.
	m.Tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("subscription manager stopping")
			m.mu.Lock()
			m.teardownLocked(context.Background())
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick is one liveness check: reconnect when an owner is recorded but the
// channel is not joined. The whole check-then-reconnect runs under the same
// lock as Start and Stop, so a tick that read a stale owner cannot resurrect
// it over a request that settled in between. No backoff: a persistent failure
// retries every period until stopped.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, err := m.owners.Get(ctx)
	if err != nil {
		m.logger.Error("liveness check failed to read owner", zap.Error(err))
		return
	}
	if owner == "" {
		return
	}

	if m.state == StateJoined && m.ownerID == owner && m.sub != nil {
		return
	}

	m.logger.Info("liveness check reconnecting", zap.String("user_id", owner))
	metrics.RecordSubscriptionReconnect()
	if err := m.startLocked(ctx, owner); err != nil {
		m.logger.Error("liveness reconnect failed", zap.Error(err), zap.String("user_id", owner))
	}
}

// onStatus applies an asynchronous channel status report. Reports from a
// replaced channel generation are ignored.
func (m *Manager) onStatus(gen uint64, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		return
	}

	m.logger.Info("realtime subscription status",
		zap.String("status", status.String()),
		zap.String("user_id", m.ownerID),
	)

	switch status {
	case StatusSubscribed:
		m.state = StateJoined
	case StatusChannelError:
		m.state = StateErrored
	case StatusClosed:
		m.state = StateDisconnected
	}
}

// teardownLocked closes the active channel. Callers hold m.mu.
func (m *Manager) teardownLocked(ctx context.Context) {
	if m.sub != nil {
		m.gen++ // the closing channel's callbacks are stale from here on
		if err := m.sub.Close(ctx); err != nil {
			m.logger.Warn("error closing realtime channel", zap.Error(err))
		}
		m.sub = nil
	}
	m.ownerID = ""
	m.state = StateDisconnected
}
