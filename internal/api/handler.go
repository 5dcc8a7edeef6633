package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/poltergeistlabs/poltergeist/internal/metrics"
	"github.com/poltergeistlabs/poltergeist/internal/redis"
	"github.com/poltergeistlabs/poltergeist/internal/store"
)

// StickerRepository defines the row-store operations the API needs.
type StickerRepository interface {
	InsertSticker(ctx context.Context, sticker *store.Sticker) error
	ListUsers(ctx context.Context) ([]*store.UserProfile, error)
	ListAssets(ctx context.Context) ([]*store.Asset, error)
}

// Subscriptions is the control surface onto the subscription manager.
type Subscriptions interface {
	Start(ctx context.Context, userID string) error
	Stop(ctx context.Context) error
	Status() (joined bool, userID string)
}

// CooldownGate guards scary sends.
type CooldownGate interface {
	CanSend(ctx context.Context, recipientID string, now time.Time) (*redis.CooldownResult, error)
	RecordSend(ctx context.Context, recipientID string, now time.Time) error
}

// SendStickerRequest is the incoming send body. An empty image_url falls back
// to the configured default sticker.
type SendStickerRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	ImageURL    string `json:"image_url"`
	Scary       bool   `json:"scary"`
}

// SendStickerResponse is returned after a successful send.
type SendStickerResponse struct {
	ID string `json:"id"`
}

// SubscriptionRequest carries the user for a start request.
type SubscriptionRequest struct {
	UserID string `json:"user_id"`
}

// SubscriptionResponse acknowledges start/stop. Every request resolves with
// either success or an explicit error; callers are never left hanging.
type SubscriptionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse answers the status query.
type StatusResponse struct {
	Joined bool   `json:"joined"`
	UserID string `json:"user_id,omitempty"`
}

// SecretResponse carries the shared secret for injected runtimes.
type SecretResponse struct {
	Value string `json:"value"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger       *zap.Logger
	repo         StickerRepository
	subs         Subscriptions
	cooldown     CooldownGate
	sharedSecret string
	defaultImage string

	now func() time.Time
}

// Config for the handler.
type Config struct {
	SharedSecret      string
	DefaultStickerURL string
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo StickerRepository, subs Subscriptions, cooldown CooldownGate, cfg Config) *Handler {
	return &Handler{
		logger:       logger,
		repo:         repo,
		subs:         subs,
		cooldown:     cooldown,
		sharedSecret: cfg.SharedSecret,
		defaultImage: cfg.DefaultStickerURL,
		now:          time.Now,
	}
}

// SendSticker handles POST /v1/stickers. Scary sends pass through the
// per-recipient cooldown; the stamp is recorded only after the insert
// succeeds, so a failed send never consumes the window.
func (h *Handler) SendSticker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SendStickerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.SenderID == "" || req.RecipientID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "sender_id and recipient_id are required")
		return
	}

	senderID, err := uuid.Parse(req.SenderID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid sender_id", "sender_id must be a valid UUID")
		return
	}

	recipientID, err := uuid.Parse(req.RecipientID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient_id", "recipient_id must be a valid UUID")
		return
	}

	imageURL := req.ImageURL
	if imageURL == "" {
		imageURL = h.defaultImage
	}
	if imageURL == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing image_url", "no sticker selected and no default configured")
		return
	}

	if req.Scary {
		result, err := h.cooldown.CanSend(ctx, req.RecipientID, h.now())
		if err != nil {
			// A broken gate should not block sending; the cooldown is
			// a courtesy to recipients, not a safety invariant.
			h.logger.Warn("cooldown check failed, allowing send", zap.Error(err))
		} else if !result.Allowed {
			metrics.RecordCooldownRejection()
			w.Header().Set("Retry-After", result.Wait.Round(time.Second).String())
			h.writeError(w, http.StatusTooManyRequests, "cooldown_active",
				"Scary sticker cooldown active",
				"wait "+result.Wait.Round(time.Second).String()+" before scaring this recipient again")
			return
		}
	}

	sticker := &store.Sticker{
		ID:          uuid.New(),
		SenderID:    senderID,
		RecipientID: recipientID,
		ImageURL:    imageURL,
		Scary:       req.Scary,
	}

	if err := h.repo.InsertSticker(ctx, sticker); err != nil {
		h.logger.Error("failed to insert sticker",
			zap.Error(err),
			zap.String("recipient_id", req.RecipientID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to send sticker", "")
		return
	}

	if req.Scary {
		if err := h.cooldown.RecordSend(ctx, req.RecipientID, h.now()); err != nil {
			h.logger.Warn("failed to record cooldown stamp", zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(SendStickerResponse{ID: sticker.ID.String()})
}

// StartSubscription handles POST /v1/subscription/start
func (h *Handler) StartSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.UserID == "" {
		h.writeJSON(w, http.StatusBadRequest, SubscriptionResponse{Success: false, Error: "no user id provided"})
		return
	}

	if err := h.subs.Start(ctx, req.UserID); err != nil {
		h.logger.Error("failed to start subscription",
			zap.Error(err),
			zap.String("user_id", req.UserID),
		)
		h.writeJSON(w, http.StatusBadGateway, SubscriptionResponse{Success: false, Error: err.Error()})
		return
	}

	h.logger.Info("subscription start accepted", zap.String("user_id", req.UserID))
	h.writeJSON(w, http.StatusOK, SubscriptionResponse{Success: true})
}

// StopSubscription handles POST /v1/subscription/stop
func (h *Handler) StopSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.subs.Stop(r.Context()); err != nil {
		h.logger.Error("failed to stop subscription", zap.Error(err))
		h.writeJSON(w, http.StatusBadGateway, SubscriptionResponse{Success: false, Error: err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, SubscriptionResponse{Success: true})
}

// SubscriptionStatus handles GET /v1/subscription/status
func (h *Handler) SubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	joined, userID := h.subs.Status()
	h.writeJSON(w, http.StatusOK, StatusResponse{Joined: joined, UserID: userID})
}

// SharedSecret handles GET /v1/secret. The secret lets injected presentation
// runtimes authenticate outbound calls without the value ever appearing in
// static assets.
func (h *Handler) SharedSecret(w http.ResponseWriter, r *http.Request) {
	if h.sharedSecret == "" {
		h.writeError(w, http.StatusNotFound, "not_configured", "No shared secret configured", "")
		return
	}
	h.writeJSON(w, http.StatusOK, SecretResponse{Value: h.sharedSecret})
}

// ListUsers handles GET /v1/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.repo.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("failed to list users", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list users", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  users,
		"count": len(users),
	})
}

// ListAssets handles GET /v1/assets
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.repo.ListAssets(r.Context())
	if err != nil {
		h.logger.Error("failed to list assets", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list assets", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  assets,
		"count": len(assets),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
