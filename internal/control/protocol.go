// Package control defines the message protocol spoken between the initiator
// surface, the relay daemon, and attached tab sessions. The protocol is a
// closed set of tagged variants: every frame on the wire is an Envelope whose
// Kind selects exactly one payload type. Unknown kinds are decode errors, so
// the full protocol surface lives in this file.
package control

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind tags an Envelope payload.
type Kind string

const (
	// Requests from the initiator surface to the daemon.
	KindStartSubscription Kind = "start_subscription"
	KindStopSubscription  Kind = "stop_subscription"
	KindQueryStatus       Kind = "query_status"
	KindFetchSharedSecret Kind = "fetch_shared_secret"

	// Replies from the daemon.
	KindResult      Kind = "result"
	KindStatusReply Kind = "status_reply"
	KindSecretReply Kind = "secret_reply"

	// Session attach, tab -> daemon.
	KindHello Kind = "hello"

	// Push frames, daemon -> tab.
	KindNotify  Kind = "notify"
	KindPresent Kind = "present"
)

// Envelope is the wire frame. Payload holds the encoded variant for Kind.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is implemented by every protocol variant.
type Message interface {
	Kind() Kind
}

// StartSubscription asks the daemon to open (or replace) the realtime
// subscription for a user.
type StartSubscription struct {
	UserID string `json:"user_id"`
}

func (StartSubscription) Kind() Kind { return KindStartSubscription }

// StopSubscription asks the daemon to close the subscription and clear the
// persisted owner.
type StopSubscription struct{}

func (StopSubscription) Kind() Kind { return KindStopSubscription }

// QueryStatus asks whether a subscription is joined and for whom.
type QueryStatus struct{}

func (QueryStatus) Kind() Kind { return KindQueryStatus }

// FetchSharedSecret asks for the secret injected presentation runtimes use to
// authenticate outbound calls.
type FetchSharedSecret struct{}

func (FetchSharedSecret) Kind() Kind { return KindFetchSharedSecret }

// Result acknowledges a request. Every request is answered: either Success is
// true or Error carries an explicit failure, never silence.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (Result) Kind() Kind { return KindResult }

// StatusReply answers QueryStatus.
type StatusReply struct {
	Joined bool   `json:"joined"`
	UserID string `json:"user_id,omitempty"`
}

func (StatusReply) Kind() Kind { return KindStatusReply }

// SecretReply answers FetchSharedSecret.
type SecretReply struct {
	Value string `json:"value"`
}

func (SecretReply) Kind() Kind { return KindSecretReply }

// Hello is the first frame a tab session sends after attaching. Listening
// reports whether the tab's notify listener is armed; when false the daemon
// must use Present fallback frames for delivery.
type Hello struct {
	URL       string `json:"url"`
	Listening bool   `json:"listening"`
}

func (Hello) Kind() Kind { return KindHello }

// Notify pushes one sticker event to a tab whose listener is armed.
type Notify struct {
	EventID           uuid.UUID `json:"event_id"`
	ImageURL          string    `json:"image_url"`
	Scary             bool      `json:"scary"`
	SenderDisplayName string    `json:"sender_display_name,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func (Notify) Kind() Kind { return KindNotify }

// Present ops understood by the version-1 effect runtime.
const (
	PresentVersion = 1

	OpShowSticker   = "show_sticker"
	OpShowJumpScare = "show_jump_scare"
)

// Present is the fallback delivery frame: instead of shipping executable code
// into the tab, the daemon sends a small versioned effect description that the
// tab's presentation runtime interprets.
type Present struct {
	Version int             `json:"version"`
	Op      string          `json:"op"`
	Params  json.RawMessage `json:"params"`
}

func (Present) Kind() Kind { return KindPresent }

// PresentParams is the parameter block for both version-1 ops.
type PresentParams struct {
	EventID           uuid.UUID `json:"event_id"`
	ImageURL          string    `json:"image_url"`
	SenderDisplayName string    `json:"sender_display_name,omitempty"`
}

// Encode wraps a variant into an Envelope.
func Encode(msg Message) (Envelope, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msg.Kind(), err)
	}
	return Envelope{Kind: msg.Kind(), Payload: payload}, nil
}

// Decode resolves an Envelope into its concrete variant. The switch is
// exhaustive over the protocol; anything else is an error.
func Decode(env Envelope) (Message, error) {
	var msg Message
	switch env.Kind {
	case KindStartSubscription:
		msg = &StartSubscription{}
	case KindStopSubscription:
		msg = &StopSubscription{}
	case KindQueryStatus:
		msg = &QueryStatus{}
	case KindFetchSharedSecret:
		msg = &FetchSharedSecret{}
	case KindResult:
		msg = &Result{}
	case KindStatusReply:
		msg = &StatusReply{}
	case KindSecretReply:
		msg = &SecretReply{}
	case KindHello:
		msg = &Hello{}
	case KindNotify:
		msg = &Notify{}
	case KindPresent:
		msg = &Present{}
	default:
		return nil, fmt.Errorf("unknown message kind: %q", env.Kind)
	}

	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", env.Kind, err)
		}
	}
	return msg, nil
}
