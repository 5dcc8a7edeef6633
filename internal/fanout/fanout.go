// Package fanout turns one inbound sticker event into per-tab deliveries.
//
// Target policy: broadcast. Every attached, non-privileged tab session gets
// the event. The alternative (deliver only to the active tab of the focused
// window) was rejected so a recipient working in another tab still sees the
// sticker; the dedup ledger keeps scary events from multiplying across tabs.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poltergeistlabs/poltergeist/internal/control"
	"github.com/poltergeistlabs/poltergeist/internal/metrics"
	"github.com/poltergeistlabs/poltergeist/internal/realtime"
	"github.com/poltergeistlabs/poltergeist/internal/tabs"
)

// Delivery methods and outcomes for one attempt.
const (
	MethodMessage  = "message"
	MethodFallback = "injected-fallback"

	OutcomeDelivered = "delivered"
	OutcomeFallback  = "fallback"
	OutcomeFailed    = "failed"
)

// DeliveryRecord captures one per-tab attempt. Ephemeral: it lives for the
// duration of a single fanout, feeding logs and counters only.
type DeliveryRecord struct {
	TabID   uuid.UUID
	Method  string
	Outcome string
}

// TabRegistry resolves targets and carries frames to them.
type TabRegistry interface {
	Tabs() []tabs.TabInfo
	Notify(id uuid.UUID, n control.Notify) error
	Inject(id uuid.UUID, p control.Present) error
}

// NameResolver looks up a sender's display name.
type NameResolver interface {
	DisplayName(ctx context.Context, userID uuid.UUID) (string, error)
}

// Fanout delivers sticker events to attached tabs.
type Fanout struct {
	logger   *zap.Logger
	registry TabRegistry
	names    NameResolver

	lookupTimeout time.Duration
}

// New creates a fanout.
func New(registry TabRegistry, names NameResolver, logger *zap.Logger) *Fanout {
	return &Fanout{
		logger:        logger,
		registry:      registry,
		names:         names,
		lookupTimeout: 3 * time.Second,
	}
}

// OnStickerEvent handles one inbound event: resolve the sender's display name
// once, resolve the target set, then attempt per-tab delivery with a single
// injected fallback. No retry beyond that; a tab that closed mid-fanout fails
// silently (logged, not surfaced).
func (f *Fanout) OnStickerEvent(ctx context.Context, ev realtime.Event) {
	metrics.RecordStickerEvent(ev.Scary)

	senderName := f.resolveSenderName(ctx, ev.SenderID)

	targets := f.registry.Tabs()
	if len(targets) == 0 {
		f.logger.Info("no delivery targets for sticker event",
			zap.String("sticker_id", ev.ID.String()),
		)
		return
	}

	records := f.deliver(ev, senderName, targets)

	delivered := 0
	for _, rec := range records {
		metrics.RecordDelivery(rec.Method, rec.Outcome)
		if rec.Outcome != OutcomeFailed {
			delivered++
		}
	}

	f.logger.Info("sticker event fanned out",
		zap.String("sticker_id", ev.ID.String()),
		zap.Bool("scary", ev.Scary),
		zap.Int("targets", len(targets)),
		zap.Int("delivered", delivered),
	)
}

// resolveSenderName runs the one-per-event profile lookup. Failure never
// blocks delivery; the name is simply omitted.
func (f *Fanout) resolveSenderName(ctx context.Context, senderID uuid.UUID) string {
	ctx, cancel := context.WithTimeout(ctx, f.lookupTimeout)
	defer cancel()

	name, err := f.names.DisplayName(ctx, senderID)
	if err != nil {
		f.logger.Warn("sender name lookup failed, delivering without it",
			zap.Error(err),
			zap.String("sender_id", senderID.String()),
		)
		return ""
	}
	return name
}

func (f *Fanout) deliver(ev realtime.Event, senderName string, targets []tabs.TabInfo) []DeliveryRecord {
	notify := control.Notify{
		EventID:           ev.ID,
		ImageURL:          ev.ImageURL,
		Scary:             ev.Scary,
		SenderDisplayName: senderName,
		CreatedAt:         ev.CreatedAt,
	}

	records := make([]DeliveryRecord, 0, len(targets))
	for _, target := range targets {
		records = append(records, f.deliverOne(target, notify))
	}
	return records
}

// deliverOne tries the message path first, then falls back to injecting a
// Present frame when the tab has no listener. One fallback, no retries.
func (f *Fanout) deliverOne(target tabs.TabInfo, notify control.Notify) DeliveryRecord {
	err := f.registry.Notify(target.ID, notify)
	if err == nil {
		return DeliveryRecord{TabID: target.ID, Method: MethodMessage, Outcome: OutcomeDelivered}
	}

	if !errors.Is(err, tabs.ErrNoReceiver) {
		f.logger.Warn("tab delivery failed",
			zap.Error(err),
			zap.String("tab_id", target.ID.String()),
		)
		return DeliveryRecord{TabID: target.ID, Method: MethodMessage, Outcome: OutcomeFailed}
	}

	present, err := presentFrame(notify)
	if err != nil {
		f.logger.Error("could not build fallback frame", zap.Error(err))
		return DeliveryRecord{TabID: target.ID, Method: MethodFallback, Outcome: OutcomeFailed}
	}

	if err := f.registry.Inject(target.ID, present); err != nil {
		f.logger.Warn("fallback injection failed, dropping event for tab",
			zap.Error(err),
			zap.String("tab_id", target.ID.String()),
		)
		return DeliveryRecord{TabID: target.ID, Method: MethodFallback, Outcome: OutcomeFailed}
	}

	return DeliveryRecord{TabID: target.ID, Method: MethodFallback, Outcome: OutcomeFallback}
}

func presentFrame(notify control.Notify) (control.Present, error) {
	op := control.OpShowSticker
	if notify.Scary {
		op = control.OpShowJumpScare
	}

	params, err := json.Marshal(control.PresentParams{
		EventID:           notify.EventID,
		ImageURL:          notify.ImageURL,
		SenderDisplayName: notify.SenderDisplayName,
	})
	if err != nil {
		return control.Present{}, err
	}

	return control.Present{
		Version: control.PresentVersion,
		Op:      op,
		Params:  params,
	}, nil
}
