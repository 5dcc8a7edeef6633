// Package assets is the upload/generation boundary: one endpoint accepting a
// multipart file plus a scary flag, one accepting a JSON prompt. Both return
// a created asset descriptor, or an error payload with an `error` string and
// a non-2xx status.
package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Descriptor is the created asset returned by both endpoints.
type Descriptor struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ImageURL  string    `json:"image_url"`
	Sticker   bool      `json:"sticker"`
	Scary     bool      `json:"scary"`
}

// Config holds the assets client configuration.
type Config struct {
	BackendURL string // backend base URL (required)
	APIKey     string // public API key (required)
	Timeout    time.Duration
}

// Client calls the backend's upload and generation endpoints.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an assets client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BackendURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// Upload sends a sticker image as multipart form data. The scary flag marks
// the asset for the scary catalog row.
func (c *Client) Upload(ctx context.Context, filename string, file io.Reader, scary bool) (*Descriptor, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy file payload: %w", err)
	}
	if err := writer.WriteField("scary", strconv.FormatBool(scary)); err != nil {
		return nil, fmt.Errorf("write scary field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/functions/v1/upload-sticker", &body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("apikey", c.apiKey)

	return c.do(req, "upload")
}

// Generate asks the backend to create an asset from a text prompt.
func (c *Client) Generate(ctx context.Context, prompt string, scary bool) (*Descriptor, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt": prompt,
		"scary":  scary,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/functions/v1/generate-sticker", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	return c.do(req, "generate")
}

func (c *Client) do(req *http.Request, op string) (*Descriptor, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The server reports failures as {"error": "..."}; prefer its
		// message, fall back to something generic.
		var errPayload struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(raw, &errPayload); err == nil && errPayload.Error != "" {
			return nil, fmt.Errorf("%s failed: %s", op, errPayload.Error)
		}
		return nil, fmt.Errorf("%s failed: status %d", op, resp.StatusCode)
	}

	var desc Descriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", op, err)
	}

	c.logger.Info("asset created",
		zap.String("op", op),
		zap.String("asset_id", desc.ID.String()),
		zap.Bool("scary", desc.Scary),
	)

	return &desc, nil
}
