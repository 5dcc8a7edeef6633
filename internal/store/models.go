package store

import (
	"time"

	"github.com/google/uuid"
)

// Sticker is one row in the stickers table: a single send from one user to
// another. Inserts into this table are what the realtime feed observes.
type Sticker struct {
	ID          uuid.UUID `json:"id"`
	SenderID    uuid.UUID `json:"sender_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	ImageURL    string    `json:"image_url"`
	Scary       bool      `json:"scary"`
	CreatedAt   time.Time `json:"created_at"`
}

// UserProfile is one row of the user directory.
type UserProfile struct {
	ID          uuid.UUID `json:"id"`
	DisplayName *string   `json:"display_name,omitempty"`
	Email       string    `json:"email"`
}

// Asset is one catalog entry a sender can pick from. Rows may be flagged as
// sticker, scary, or both.
type Asset struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ImageURL  string    `json:"image_url"`
	Sticker   bool      `json:"sticker"`
	Scary     bool      `json:"scary"`
}
