// Package backend talks to the conversational backend that produces the
// avatar's replies.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ClientConfig configures the backend client
type ClientConfig struct {
	BaseURL      string        // e.g., "http://localhost:3000"
	GreetingPath string        // default "/greeting"
	ChatPath     string        // default "/chat"
	Timeout      time.Duration // HTTP request timeout, 0 = none
	UserAgent    string
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      "http://localhost:3000",
		GreetingPath: "/greeting",
		ChatPath:     "/chat",
		UserAgent:    "avatarchat/1.0",
	}
}

// Client performs the greeting and chat requests. It holds no conversation
// state and never retries.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new backend client
func NewClient(cfg *ClientConfig, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if cfg.GreetingPath == "" {
		cfg.GreetingPath = "/greeting"
	}
	if cfg.ChatPath == "" {
		cfg.ChatPath = "/chat"
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With().Str("component", "backend-client").Logger(),
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

// FetchGreeting asks the backend for the opening replies.
func (c *Client) FetchGreeting(ctx context.Context) ([]Reply, error) {
	const op = "greeting"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(c.config.GreetingPath), nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	return c.do(op, req)
}

// Exchange posts the user's text and returns the replies.
func (c *Client) Exchange(ctx context.Context, text string) ([]Reply, error) {
	const op = "chat"

	body, err := json.Marshal(chatRequest{Message: text})
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(c.config.ChatPath), bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(op, req)
}

func (c *Client) do(op string, req *http.Request) ([]Reply, error) {
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	c.logger.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Int("bodyLen", len(respBody)).
		Dur("latency", time.Since(start)).
		Str("bodyPreview", truncateForLog(string(respBody), 300)).
		Msg("backend response received")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: %s", truncateForLog(string(respBody), 200)),
		}
	}

	replies, err := Normalize(respBody)
	if err != nil {
		return nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	return replies, nil
}

func (c *Client) url(path string) string {
	base := strings.TrimRight(c.config.BaseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// truncateForLog truncates a string for logging purposes
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
