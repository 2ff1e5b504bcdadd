// Package auth implements the upstream authenticator: it exchanges provider
// credentials for a short-lived bearer token over HTTPS.
//
// Tokens live for exactly one connection attempt. The client performs no
// retries; retry policy belongs to the caller.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Credentials are the provider account credentials.
type Credentials struct {
	Username   string
	Password   string
	InvestorID string
}

// Token is a short-lived upstream bearer token. It is owned by the single
// connection attempt that requested it and is never shared or persisted.
type Token struct {
	Value    string
	IssuedTo string // investor id the token was issued for
}

// AuthError is returned when the provider rejects an authentication call or
// responds with a malformed body.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream auth error %d: %s", e.StatusCode, e.Message)
	}
	return "upstream auth error: " + e.Message
}

// Client calls the provider's authentication endpoint.
type Client struct {
	authURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates an authentication client for the given endpoint.
func NewClient(authURL string, opts ...ClientOption) *Client {
	c := &Client{
		authURL: authURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

// Authenticate exchanges credentials for a bearer token. On non-2xx status
// or a malformed body it returns an *AuthError and the caller must not
// proceed to connect.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	body, err := json.Marshal(authRequest{
		Username: creds.Username,
		Password: creds.Password,
	})
	if err != nil {
		return Token{}, fmt.Errorf("encode auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, bytes.NewReader(body))
	if err != nil {
		return Token{}, fmt.Errorf("create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, &AuthError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, &AuthError{StatusCode: resp.StatusCode, Message: "read response: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Token{}, &AuthError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
		}
	}

	var parsed authResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Token{}, &AuthError{StatusCode: resp.StatusCode, Message: "malformed response body"}
	}
	if parsed.Token == "" {
		return Token{}, &AuthError{StatusCode: resp.StatusCode, Message: "response contained no token"}
	}

	// Token values are secrets; log length only.
	c.logger.Debug("upstream authenticated",
		"investor_id", creds.InvestorID,
		"token_len", len(parsed.Token),
	)

	return Token{
		Value:    parsed.Token,
		IssuedTo: creds.InvestorID,
	}, nil
}
