// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// client.go - OpenRouter chat completion client.
//
// Provides non-streaming (Chat) and streaming (ChatStream) access to
// the OpenRouter /chat/completions endpoint. ChatStream hands back
// the raw event-stream body untouched; parsing belongs to the sse
// package.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultBaseURL is the OpenRouter API base URL.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModel is the free-tier model used when none is selected.
	DefaultModel = "xiaomi/mimo-v2-flash:free"

	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.7

	// DefaultMaxTokens caps non-streaming completions.
	DefaultMaxTokens = 500

	// DefaultStreamMaxTokens caps streaming completions.
	DefaultStreamMaxTokens = 4096

	// HistoryLimit is the maximum number of prior messages sent
	// upstream with a new user message.
	HistoryLimit = 20

	// MaxResponseSize limits non-streaming response bodies.
	MaxResponseSize int64 = 10 * 1024 * 1024

	// DefaultTitle is sent as the X-Title header.
	DefaultTitle = "Knowledge AI Chat"

	defaultTimeout = 60 * time.Second
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotConfigured indicates no API key is available. Returned
	// before any network call is made.
	ErrNotConfigured = errors.New("openrouter API key not configured")

	// ErrEmptyResponse indicates the upstream returned 2xx but no
	// usable completion text.
	ErrEmptyResponse = errors.New("empty response from model")
)

// APIError is a non-2xx upstream response. It preserves the status
// code and raw body so callers can pass both through.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openrouter returned status %d: %s", e.Status, e.Message())
}

// Message extracts the upstream error message when the body is the
// standard {"error": {"message": ...}} envelope, falling back to the
// raw body.
func (e *APIError) Message() string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return e.Body
}

// =============================================================================
// HTTP CLIENTS
// =============================================================================

// Shared pooled clients. The streaming client has no overall timeout;
// stream lifetime is governed by the request context.
var (
	sharedHTTPClient = &http.Client{
		Timeout: defaultTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	streamingHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
	}
)

// =============================================================================
// CLIENT
// =============================================================================

// Client calls the OpenRouter chat completions API.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	referer     string
	title       string
	httpClient  *http.Client
	streamHTTP  *http.Client
}

// NewClient creates a Client with the given API key and defaults.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:      strings.TrimSpace(apiKey),
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		temperature: DefaultTemperature,
		title:       DefaultTitle,
		httpClient:  sharedHTTPClient,
		streamHTTP:  streamingHTTPClient,
	}
}

// WithBaseURL overrides the API base URL (used in tests).
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimRight(url, "/")
	return c
}

// WithModel sets the default model.
func (c *Client) WithModel(model string) *Client {
	if model != "" {
		c.model = model
	}
	return c
}

// WithTemperature sets the default sampling temperature.
func (c *Client) WithTemperature(t float64) *Client {
	c.temperature = t
	return c
}

// WithReferer sets the HTTP-Referer header value.
func (c *Client) WithReferer(url string) *Client {
	c.referer = url
	return c
}

// WithHTTPClient overrides both HTTP clients (used in tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamHTTP = hc
	return c
}

// IsConfigured reports whether an API key is present.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// Model returns the client's default model.
func (c *Client) Model() string {
	return c.model
}

// NewRequest builds a non-streaming request with client defaults.
func (c *Client) NewRequest(messages []ChatMessage) ChatRequest {
	return ChatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   DefaultMaxTokens,
		Temperature: c.temperature,
	}
}

// NewStreamRequest builds a streaming request with client defaults.
func (c *Client) NewStreamRequest(messages []ChatMessage) ChatRequest {
	return ChatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   DefaultStreamMaxTokens,
		Temperature: c.temperature,
		Stream:      true,
	}
}

func (c *Client) setHeaders(req *http.Request, streaming bool) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}
}

// =============================================================================
// NON-STREAMING COMPLETION
// =============================================================================

// Chat performs a non-streaming completion and returns the trimmed
// assistant text.
//
// Errors: ErrNotConfigured before any network call when no key is
// set; *APIError for non-2xx responses; ErrEmptyResponse when the
// upstream answer is blank.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}
	req.Stream = false

	resp, err := c.post(ctx, c.httpClient, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	content := strings.TrimSpace(chatResp.Content())
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

// =============================================================================
// STREAMING COMPLETION
// =============================================================================

// ChatStream performs a streaming completion and returns the raw
// event-stream body. The caller owns the ReadCloser and is expected
// to feed it through an sse.Reframer.
//
// A non-2xx status at response headers is returned as *APIError with
// the drained body; the stream contents are never inspected here.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	req.Stream = true

	resp, err := c.post(ctx, c.streamHTTP, req, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, hc *http.Client, reqBody ChatRequest, streaming bool) (*http.Response, error) {
	if reqBody.Model == "" {
		reqBody.Model = c.model
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, streaming)

	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}
