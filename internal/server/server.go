// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// server.go - HTTP API for knowledge-grounded chat.
//
// Endpoints:
//
//	POST /api/chat        - non-streaming completion
//	POST /api/chat/stream - SSE streaming completion
//	POST /api/improve     - prompt improvement
//	GET  /api/models      - model catalog
//	GET  /api/stats       - request counters and uptime
//	GET  /health          - liveness probe
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/kbchat/internal/cloud"
	"github.com/jeranaias/kbchat/internal/config"
	"github.com/jeranaias/kbchat/internal/knowledge"
	"github.com/jeranaias/kbchat/internal/prompt"
	"github.com/jeranaias/kbchat/internal/sse"
)

// ============================================================================
// Server
// ============================================================================

// Server is the kbchat HTTP server.
type Server struct {
	cfg     *config.Config
	client  *cloud.Client
	loader  knowledge.Loader
	logger  *log.Logger
	version string

	started time.Time
	stats   serverStats

	limiterOnce sync.Once
	limiter     *RateLimiter

	httpServer *http.Server
}

// serverStats tracks request counters across all endpoints.
type serverStats struct {
	requests atomic.Int64
	errors   atomic.Int64
	streams  atomic.Int64
}

// New creates a Server. logger may be nil, in which case the standard
// logger is used.
func New(cfg *config.Config, client *cloud.Client, loader knowledge.Loader, version string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		cfg:     cfg,
		client:  client,
		loader:  loader,
		logger:  logger,
		version: version,
		started: time.Now(),
	}
}

// Handler returns the full route tree wrapped in the middleware chain.
// The rate limiter is shared across calls; Close releases it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/chat/stream", s.handleChatStream)
	mux.HandleFunc("/api/improve", s.handleImprove)
	mux.HandleFunc("/api/models", s.handleModels)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/health", s.handleHealth)

	s.limiterOnce.Do(func() {
		s.limiter = NewRateLimiter(s.cfg.Server.RateLimitRPS, int(s.cfg.Server.RateLimitRPS)*2)
	})

	chain := Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(s.limiter),
	)
	return chain(mux)
}

// Close releases server resources not tied to a live listener.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	defer s.Close()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("SERVER_START | addr=%s version=%s", addr, s.version)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Printf("SERVER_SHUTDOWN | addr=%s", addr)
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// ============================================================================
// Response Helpers
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WRITE_JSON_FAILED | error=%v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.stats.errors.Add(1)
	writeJSON(w, status, map[string]string{"error": message})
}

// writeUpstreamError maps a cloud client failure onto the API error
// envelope. Upstream status codes pass through; everything else is an
// internal error.
func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	var apiErr *cloud.APIError
	switch {
	case errors.Is(err, cloud.ErrNotConfigured):
		s.writeError(w, http.StatusInternalServerError, "API key not configured")
	case errors.As(err, &apiErr):
		s.stats.errors.Add(1)
		writeJSON(w, apiErr.Status, map[string]string{
			"error":   "Failed to get AI response",
			"details": apiErr.Message(),
		})
	case errors.Is(err, cloud.ErrEmptyResponse):
		s.writeError(w, http.StatusInternalServerError, "Empty response from AI")
	default:
		s.logger.Printf("UPSTREAM_ERROR | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// ============================================================================
// Request Decoding
// ============================================================================

// chatRequest is the request body shared by the chat endpoints.
type chatRequest struct {
	Message            string              `json:"message"`
	Model              string              `json:"model"`
	Temperature        *float64            `json:"temperature"`
	CustomSystemPrompt string              `json:"customSystemPrompt"`
	Messages           []cloud.ChatMessage `json:"messages"`
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (s *Server) requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// systemPrompt assembles the grounded system prompt for this request.
func (s *Server) systemPrompt(custom string) string {
	return prompt.System(s.loader.Knowledge(), custom)
}

// completionRequest applies per-request model and temperature
// overrides to a client-default request.
func applyOverrides(creq cloud.ChatRequest, req chatRequest) cloud.ChatRequest {
	if req.Model != "" {
		creq.Model = req.Model
	}
	if req.Temperature != nil {
		creq.Temperature = *req.Temperature
	}
	return creq
}

// ============================================================================
// Chat Handlers
// ============================================================================

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	s.stats.requests.Add(1)

	var req chatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		s.writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	messages := []cloud.ChatMessage{
		cloud.NewSystemMessage(s.systemPrompt(req.CustomSystemPrompt)),
		cloud.NewUserMessage(message),
	}
	creq := applyOverrides(s.client.NewRequest(messages), req)

	content, err := s.client.Chat(r.Context(), creq)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"response": content})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	s.stats.requests.Add(1)

	var req chatRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	// The latest user turn may arrive as "message" or as the tail of
	// the client-supplied history.
	message := strings.TrimSpace(req.Message)
	history := req.Messages
	if message == "" {
		if n := len(history); n > 0 && history[n-1].Role == "user" {
			message = strings.TrimSpace(history[n-1].Content)
			history = history[:n-1]
		}
	}
	if message == "" {
		s.writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	wire := cloud.BuildMessages(history, message)
	messages := make([]cloud.ChatMessage, 0, len(wire)+1)
	messages = append(messages, cloud.NewSystemMessage(s.systemPrompt(req.CustomSystemPrompt)))
	messages = append(messages, wire...)

	creq := applyOverrides(s.client.NewStreamRequest(messages), req)

	stream, err := s.client.ChatStream(r.Context(), creq)
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}
	s.stats.streams.Add(1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err = sse.Pipe(stream, func(ev sse.Event) error {
		if ev.Done {
			return nil
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// Headers are long gone; all we can do is log and close.
		s.logger.Printf("STREAM_ABORTED | error=%v", err)
		return
	}

	// Clients rely on the terminal frame even when the upstream never
	// sent one.
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) handleImprove(w http.ResponseWriter, r *http.Request) {
	if !s.requirePost(w, r) {
		return
	}
	s.stats.requests.Add(1)

	var req struct {
		Prompt string `json:"prompt"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	raw := strings.TrimSpace(req.Prompt)
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "Prompt is required")
		return
	}

	messages := []cloud.ChatMessage{cloud.NewUserMessage(prompt.Improve(raw))}
	content, err := s.client.Chat(r.Context(), s.client.NewRequest(messages))
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"improved": content})
}

// ============================================================================
// Info Handlers
// ============================================================================

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.stats.requests.Add(1)

	writeJSON(w, http.StatusOK, map[string]any{
		"models":  cloud.Models(),
		"default": s.client.Model(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.stats.requests.Add(1)

	writeJSON(w, http.StatusOK, map[string]any{
		"requests":       s.stats.requests.Load(),
		"errors":         s.stats.errors.Load(),
		"streams":        s.stats.streams.Load(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"version":        s.version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}
