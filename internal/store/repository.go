package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/google/uuid"
)

// Repository handles database operations for stickers, the user directory,
// and the asset catalog.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// InsertSticker inserts a new sticker row. The insert trigger raises the
// realtime notification for the recipient's channel; nothing further is done
// here.
func (r *Repository) InsertSticker(ctx context.Context, sticker *Sticker) error {
	query := `
		INSERT INTO stickers (id, sender_id, recipient_id, image_url, scary)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		sticker.ID,
		sticker.SenderID,
		sticker.RecipientID,
		sticker.ImageURL,
		sticker.Scary,
	).Scan(&sticker.CreatedAt)

	if err != nil {
		r.logger.Error("failed to insert sticker",
			zap.Error(err),
			zap.String("sticker_id", sticker.ID.String()),
			zap.String("recipient_id", sticker.RecipientID.String()),
		)
		return fmt.Errorf("insert sticker: %w", err)
	}

	r.logger.Info("sticker inserted",
		zap.String("sticker_id", sticker.ID.String()),
		zap.String("recipient_id", sticker.RecipientID.String()),
		zap.Bool("scary", sticker.Scary),
	)

	return nil
}

// ListUsers returns the user directory ordered by display name, nulls last.
func (r *Repository) ListUsers(ctx context.Context) ([]*UserProfile, error) {
	query := `
		SELECT id, display_name, email
		FROM user_list
		ORDER BY display_name ASC NULLS LAST
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*UserProfile
	for rows.Next() {
		var u UserProfile
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return users, nil
}

// DisplayName resolves one sender's display name, falling back to email when
// the name is unset. Returns "" with no error when the user does not exist;
// callers treat an empty name as "omit it".
func (r *Repository) DisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	query := `SELECT display_name, email FROM user_list WHERE id = $1`

	var displayName *string
	var email string
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(&displayName, &email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query display name: %w", err)
	}

	if displayName != nil && *displayName != "" {
		return *displayName, nil
	}
	return email, nil
}

// ListAssets returns catalog rows flagged sticker or scary, newest first.
func (r *Repository) ListAssets(ctx context.Context) ([]*Asset, error) {
	query := `
		SELECT id, created_at, image_url, sticker, scary
		FROM assets
		WHERE sticker = TRUE OR scary = TRUE
		ORDER BY created_at DESC
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.ID, &a.CreatedAt, &a.ImageURL, &a.Sticker, &a.Scary); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return assets, nil
}
