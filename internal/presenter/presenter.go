// Package presenter is the consumer-side delivery logic that runs in each
// tab session's effect runtime. It decides whether an inbound sticker event
// becomes a visible effect, coordinating with other tabs through the shared
// dedup ledger so a jump-scare is shown once, total.
//
// Scary presentations are deferred until the next user interaction: an
// immediate full-screen overlay reads as an unsolicited pop-under, and audio
// needs a user-gesture context to play. That deferral opens a race (two tabs
// can both pass the pre-arm check before either resolves the key), which is
// why the trigger path takes an atomic claim instead of re-reading a flag.
package presenter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poltergeistlabs/poltergeist/internal/control"
)

// Ledger is the cross-tab dedup ledger.
type Ledger interface {
	IsResolved(ctx context.Context, imageKey string) (bool, error)
	Claim(ctx context.Context, imageKey string) (bool, error)
	MarkResolved(ctx context.Context, imageKey string) error
}

// Effects is the presentation boundary. Implementations own overlay layout,
// audio, and styling; the presenter owns only the decision to call them.
type Effects interface {
	ShowSticker(imageURL, senderName string)
	ShowJumpScare(imageURL string)
	HideJumpScare()
}

// Presenter drives one tab's presentation decisions.
type Presenter struct {
	logger  *zap.Logger
	ledger  Ledger
	effects Effects

	mu         sync.Mutex
	seen       map[uuid.UUID]struct{}
	armedKey   string
	showingKey string
}

// New creates a presenter for one tab.
func New(ledger Ledger, effects Effects, logger *zap.Logger) *Presenter {
	return &Presenter{
		logger:  logger,
		ledger:  ledger,
		effects: effects,
		seen:    make(map[uuid.UUID]struct{}),
	}
}

// HandleNotify processes a notify frame from the daemon. Repeat frames for an
// already-seen event are ignored, so a delivery is visible at most once per
// tab per event.
func (p *Presenter) HandleNotify(ctx context.Context, n control.Notify) {
	p.mu.Lock()
	if _, dup := p.seen[n.EventID]; dup {
		p.mu.Unlock()
		return
	}
	p.seen[n.EventID] = struct{}{}
	p.mu.Unlock()

	if !n.Scary {
		p.effects.ShowSticker(n.ImageURL, n.SenderDisplayName)
		return
	}

	p.armScare(ctx, n.ImageURL)
}

// HandlePresent interprets an injected fallback frame. The runtime is
// versioned: frames from a newer protocol are rejected rather than guessed
// at.
func (p *Presenter) HandlePresent(ctx context.Context, frame control.Present) error {
	if frame.Version != control.PresentVersion {
		return fmt.Errorf("unsupported present version: %d", frame.Version)
	}

	var params control.PresentParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return fmt.Errorf("decode present params: %w", err)
	}

	switch frame.Op {
	case control.OpShowSticker:
		p.HandleNotify(ctx, control.Notify{
			EventID:           params.EventID,
			ImageURL:          params.ImageURL,
			SenderDisplayName: params.SenderDisplayName,
		})
	case control.OpShowJumpScare:
		p.HandleNotify(ctx, control.Notify{
			EventID:  params.EventID,
			ImageURL: params.ImageURL,
			Scary:    true,
		})
	default:
		return fmt.Errorf("unknown present op: %q", frame.Op)
	}
	return nil
}

// armScare is the pre-arm check: if another tab already resolved this key the
// scare is suppressed before any interaction listener is armed.
func (p *Presenter) armScare(ctx context.Context, imageKey string) {
	resolved, err := p.ledger.IsResolved(ctx, imageKey)
	if err != nil {
		// Can't read the ledger: arm anyway, the claim at trigger time
		// still prevents a double show.
		p.logger.Warn("ledger read failed while arming", zap.Error(err))
	}
	if resolved {
		p.logger.Debug("jump-scare already resolved, not arming",
			zap.String("image_key", imageKey),
		)
		return
	}

	p.mu.Lock()
	p.armedKey = imageKey
	p.mu.Unlock()

	p.logger.Debug("jump-scare armed", zap.String("image_key", imageKey))
}

// OnInteraction fires on the tab's next user gesture. This is the second
// check: an atomic claim on the ledger key. Exactly one tab wins it; losers
// disarm and take no visual or audio action. The shown key moves to its own
// slot so a scare arriving while the overlay is up cannot change which key
// the eventual dismissal resolves.
func (p *Presenter) OnInteraction(ctx context.Context) {
	p.mu.Lock()
	key := p.armedKey
	if key == "" || p.showingKey != "" {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	won, err := p.ledger.Claim(ctx, key)
	if err != nil {
		p.logger.Warn("ledger claim failed, cancelling jump-scare", zap.Error(err))
		won = false
	}

	p.mu.Lock()
	if !won {
		if p.armedKey == key {
			p.armedKey = ""
		}
		p.mu.Unlock()
		p.logger.Debug("jump-scare lost the claim, cancelling silently",
			zap.String("image_key", key),
		)
		return
	}
	p.showingKey = key
	if p.armedKey == key {
		p.armedKey = ""
	}
	p.mu.Unlock()

	p.effects.ShowJumpScare(key)
}

// Dismiss handles the user closing the scare. Only the dismissal marks the
// key resolved for every other tab, and only the key that was actually shown.
// A scare armed while the overlay was up stays armed for the next interaction.
func (p *Presenter) Dismiss(ctx context.Context) {
	p.mu.Lock()
	key := p.showingKey
	if key == "" {
		p.mu.Unlock()
		return
	}
	p.showingKey = ""
	p.mu.Unlock()

	p.effects.HideJumpScare()

	if err := p.ledger.MarkResolved(ctx, key); err != nil {
		p.logger.Error("failed to mark jump-scare resolved", zap.Error(err))
	}
}

// Armed reports whether a scare is waiting on the next interaction.
func (p *Presenter) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armedKey != ""
}

// Showing reports whether the scare overlay is currently up.
func (p *Presenter) Showing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.showingKey != ""
}
