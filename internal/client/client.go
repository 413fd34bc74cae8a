// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// APIError is an error reported by the server, either as an HTTP error
// reply or as an error event on a stream (Status 0).
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Is matches sentinel APIErrors by status.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Status != 0 && t.Status == e.Status
}

// Sentinel errors for easy checking.
var (
	ErrNotFound    = &APIError{Status: http.StatusNotFound, Message: "not found"}
	ErrConflict    = &APIError{Status: http.StatusConflict, Message: "conflict"}
	ErrUnavailable = &APIError{Status: http.StatusServiceUnavailable, Message: "service unavailable"}
)

// ErrServerUnreachable is returned when the rigchat server cannot be reached.
var ErrServerUnreachable = errors.New("cannot connect to the rigchat server; start it with `rigchat serve`")

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Defaults for Config zero values.
const (
	DefaultBaseURL        = "http://127.0.0.1:8787"
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultSendTimeout    = 5 * time.Minute
	DefaultRequestTimeout = 30 * time.Second
)

// Config holds client settings.
type Config struct {
	// BaseURL is the rigchat server address.
	BaseURL string

	// PollInterval is the period of the store poll during a streaming send.
	PollInterval time.Duration

	// SendTimeout bounds a non-streaming send.
	SendTimeout time.Duration

	// RequestTimeout bounds every other request.
	RequestTimeout time.Duration

	// Logger receives diagnostic lines. Nil discards them.
	Logger *log.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		PollInterval:   DefaultPollInterval,
		SendTimeout:    DefaultSendTimeout,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// Client is an HTTP client for the rigchat API.
type Client struct {
	baseURL      string
	pollInterval time.Duration
	sendTimeout  time.Duration

	// httpClient carries request timeouts; streamClient has none, since a
	// stream lasts as long as the model keeps generating.
	httpClient   *http.Client
	streamClient *http.Client
	logger       *log.Logger
}

// New creates a client. Zero config fields take defaults.
func New(cfg Config) *Client {
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaults.SendTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	return &Client{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		pollInterval: cfg.PollInterval,
		sendTimeout:  cfg.SendTimeout,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeout},
		streamClient: &http.Client{},
		logger:       cfg.Logger,
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// API TYPES
// =============================================================================

// ModelInfo is one model the backend can serve.
type ModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// Health is the server's health report.
type Health struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	OllamaStatus   string `json:"ollama_status"`
	ActiveSessions int    `json:"active_sessions"`
}

type conversationBody struct {
	Conversation *model.Conversation `json:"conversation"`
}

type chatBody struct {
	Conversation *model.Conversation `json:"conversation"`
	Response     string              `json:"response"`
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// ListConversations returns conversation summaries, most recent first.
func (c *Client) ListConversations(ctx context.Context) ([]model.Summary, error) {
	var body struct {
		Conversations []model.Summary `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &body); err != nil {
		return nil, err
	}
	return body.Conversations, nil
}

// GetConversation fetches one conversation.
func (c *Client) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var body conversationBody
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+url.PathEscape(id), nil, &body); err != nil {
		return nil, err
	}
	if body.Conversation == nil {
		return nil, fmt.Errorf("server returned no conversation for %s", id)
	}
	return body.Conversation, nil
}

// CreateConversation creates an empty conversation.
func (c *Client) CreateConversation(ctx context.Context, patch model.ConversationPatch) (*model.Conversation, error) {
	var body conversationBody
	if err := c.do(ctx, http.MethodPost, "/api/conversations", patch, &body); err != nil {
		return nil, err
	}
	return body.Conversation, nil
}

// UpdateConversation renames a conversation or changes its settings.
func (c *Client) UpdateConversation(ctx context.Context, id string, patch model.ConversationPatch) (*model.Conversation, error) {
	var body conversationBody
	if err := c.do(ctx, http.MethodPut, "/api/conversations/"+url.PathEscape(id), patch, &body); err != nil {
		return nil, err
	}
	return body.Conversation, nil
}

// DeleteConversation deletes a conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(id), nil, nil)
}

// =============================================================================
// MODELS & HEALTH
// =============================================================================

// ListModels returns the models the backend can serve.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var body struct {
		Models []ModelInfo `json:"models"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/models", nil, &body); err != nil {
		return nil, err
	}
	return body.Models, nil
}

// Health fetches the server health report.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// do sends a JSON request and decodes a JSON reply into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.send(ctx, c.httpClient, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// send issues a request and returns the raw response.
func (c *Client) send(ctx context.Context, hc *http.Client, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return nil, fmt.Errorf("%w: %v", ErrServerUnreachable, err)
		}
		return nil, err
	}
	return resp, nil
}

// decodeError turns an HTTP error reply into an APIError.
func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
		if body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}
