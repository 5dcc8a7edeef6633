// Package auth is the identity-provider boundary: interactive OAuth sign-in,
// session query, and sign-out against the backend. The provider's internals
// stay on the other side of this interface.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Session is an authenticated backend session.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Config for the auth client.
type Config struct {
	BackendURL   string // backend base URL (required)
	APIKey       string // public API key sent with every request (required)
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration
}

// Client performs the OAuth exchange and session operations.
type Client struct {
	oauth      *oauth2.Config
	backendURL string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an auth client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BackendURL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	base := strings.TrimSuffix(cfg.BackendURL, "/")

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/auth/v1/authorize",
				TokenURL: base + "/auth/v1/token",
			},
		},
		backendURL: base,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

// AuthCodeURL builds the interactive sign-in URL for the given state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange redeems an authorization code for a session.
func (c *Client) Exchange(ctx context.Context, code string) (*Session, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	sess := &Session{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}

	user, err := c.CurrentUser(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}
	sess.UserID = user.ID
	sess.Email = user.Email

	c.logger.Info("session established", zap.String("user_id", sess.UserID))
	return sess, nil
}

// UserInfo is the identity behind an access token.
type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// CurrentUser queries the session's user.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.backendURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("build user request: %w", err)
	}
	c.authorize(req, accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("query user: status %d: %s", resp.StatusCode, string(body))
	}

	var user UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}

// SignOut revokes the session.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.backendURL+"/auth/v1/logout", nil)
	if err != nil {
		return fmt.Errorf("build logout request: %w", err)
	}
	c.authorize(req, accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sign out: status %d", resp.StatusCode)
	}

	c.logger.Info("session revoked")
	return nil
}

func (c *Client) authorize(req *http.Request, accessToken string) {
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
}

// IsCancellation reports whether an OAuth callback error string represents
// the user backing out of the flow. Cancellations are suppressed rather than
// surfaced as failures.
func IsCancellation(callbackErr string) bool {
	s := strings.ToLower(callbackErr)
	return strings.Contains(s, "access_denied") ||
		strings.Contains(s, "user_cancel") ||
		strings.Contains(s, "canceled") ||
		strings.Contains(s, "cancelled")
}
