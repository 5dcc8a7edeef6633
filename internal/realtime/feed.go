// Package realtime owns the live subscription to sticker inserts: the feed
// transport, the single-subscription manager, and the liveness loop that
// keeps the subscription alive across daemon restarts.
package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one inbound sticker insert addressed to the subscription owner.
type Event struct {
	ID          uuid.UUID `json:"id"`
	SenderID    uuid.UUID `json:"sender_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	ImageURL    string    `json:"image_url"`
	Scary       bool      `json:"scary"`
	CreatedAt   time.Time `json:"created_at"`
}

// Status is the channel status stream reported asynchronously by the feed.
type Status int

const (
	// StatusSubscribed means the channel handshake completed and events
	// will flow.
	StatusSubscribed Status = iota
	// StatusChannelError means the transport failed; the subscription is
	// dead and must be replaced. Recovery is the liveness timer's job.
	StatusChannelError
	// StatusClosed means the subscription was closed deliberately.
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusSubscribed:
		return "subscribed"
	case StatusChannelError:
		return "channel_error"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscription is an opaque handle to one open channel.
type Subscription interface {
	Close(ctx context.Context) error
}

// Feed opens server-side-filtered subscriptions: only inserts whose recipient
// is userID are ever delivered to onEvent. onStatus receives the asynchronous
// channel status stream; a Subscribe that returns nil error may still fail
// later through it.
type Feed interface {
	Subscribe(ctx context.Context, userID string, onEvent func(Event), onStatus func(Status)) (Subscription, error)
}
