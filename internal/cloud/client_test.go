// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

func TestChat_NotConfigured(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := NewClient("").WithBaseURL(srv.URL)
	_, err := c.Chat(context.Background(), c.NewRequest(nil))
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	if calls != 0 {
		t.Errorf("unconfigured client made %d network calls", calls)
	}

	_, err = c.ChatStream(context.Background(), c.NewStreamRequest(nil))
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("stream err = %v, want ErrNotConfigured", err)
	}
	if calls != 0 {
		t.Errorf("unconfigured client made %d network calls", calls)
	}
}

// =============================================================================
// NON-STREAMING
// =============================================================================

func TestChat_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Title"); got != DefaultTitle {
			t.Errorf("X-Title = %q", got)
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Stream {
			t.Error("non-streaming request had stream=true")
		}
		if req.MaxTokens != DefaultMaxTokens {
			t.Errorf("max_tokens = %d, want %d", req.MaxTokens, DefaultMaxTokens)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"  Widgets cost $5.  "}}]}`)
	}))
	defer srv.Close()

	c := NewClient("test-key").WithBaseURL(srv.URL)
	got, err := c.Chat(context.Background(), c.NewRequest([]ChatMessage{NewUserMessage("price?")}))
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if got != "Widgets cost $5." {
		t.Errorf("Chat = %q, want trimmed answer", got)
	}
}

func TestChat_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	c := NewClient("k").WithBaseURL(srv.URL)
	_, err := c.Chat(context.Background(), c.NewRequest(nil))

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", apiErr.Status)
	}
	if apiErr.Message() != "rate limited" {
		t.Errorf("Message = %q, want parsed upstream message", apiErr.Message())
	}
	if !strings.Contains(apiErr.Body, "rate limited") {
		t.Errorf("Body = %q, raw body not preserved", apiErr.Body)
	}
}

func TestChat_EmptyResponse(t *testing.T) {
	for name, body := range map[string]string{
		"no choices":  `{"choices":[]}`,
		"blank text":  `{"choices":[{"message":{"role":"assistant","content":"   "}}]}`,
		"empty chunk": `{"choices":[{"message":{"role":"assistant","content":""}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			}))
			defer srv.Close()

			c := NewClient("k").WithBaseURL(srv.URL)
			_, err := c.Chat(context.Background(), c.NewRequest(nil))
			if !errors.Is(err, ErrEmptyResponse) {
				t.Errorf("err = %v, want ErrEmptyResponse", err)
			}
		})
	}
}

// =============================================================================
// STREAMING
// =============================================================================

func TestChatStream_ReturnsRawBody(t *testing.T) {
	raw := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\ndata: [DONE]\n\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "text/event-stream" {
			t.Errorf("Accept = %q", got)
		}
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("streaming request had stream=false")
		}
		if req.MaxTokens != DefaultStreamMaxTokens {
			t.Errorf("max_tokens = %d, want %d", req.MaxTokens, DefaultStreamMaxTokens)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, raw)
	}))
	defer srv.Close()

	c := NewClient("k").WithBaseURL(srv.URL)
	body, err := c.ChatStream(context.Background(), c.NewStreamRequest([]ChatMessage{NewUserMessage("hi")}))
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}
	defer body.Close()

	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if string(got) != raw {
		t.Errorf("stream body = %q, want untouched upstream bytes", got)
	}
}

func TestChatStream_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	c := NewClient("k").WithBaseURL(srv.URL)
	_, err := c.ChatStream(context.Background(), c.NewStreamRequest(nil))

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", apiErr.Status)
	}
}

// =============================================================================
// HISTORY RULE
// =============================================================================

func TestBuildMessages_AppendsUser(t *testing.T) {
	history := []ChatMessage{
		NewUserMessage("U1"),
		NewAssistantMessage("A1"),
	}
	got := BuildMessages(history, "U2")

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[2].Role != "user" || got[2].Content != "U2" {
		t.Errorf("last = %+v, want user U2", got[2])
	}
}

func TestBuildMessages_IdempotentAppend(t *testing.T) {
	history := []ChatMessage{
		NewUserMessage("U1"),
		NewAssistantMessage("A1"),
		NewUserMessage("U2"),
	}
	got := BuildMessages(history, "U2")

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (no duplicate append)", len(got))
	}
	// Reapplying is a no-op.
	again := BuildMessages(got, "U2")
	if len(again) != 3 {
		t.Errorf("reapplied len = %d, want 3", len(again))
	}
}

func TestBuildMessages_FiltersRoles(t *testing.T) {
	history := []ChatMessage{
		NewSystemMessage("S"),
		NewUserMessage("U1"),
		{Role: "tool", Content: "T"},
		NewAssistantMessage("A1"),
	}
	got := BuildMessages(history, "U2")

	for _, m := range got {
		if m.Role != "user" && m.Role != "assistant" {
			t.Errorf("role %q survived the filter", m.Role)
		}
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
}

func TestBuildMessages_CapsAtHistoryLimit(t *testing.T) {
	var history []ChatMessage
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			history = append(history, NewUserMessage("u"))
		} else {
			history = append(history, NewAssistantMessage("a"))
		}
	}
	got := BuildMessages(history, "latest")

	if len(got) != HistoryLimit+1 {
		t.Errorf("len = %d, want %d", len(got), HistoryLimit+1)
	}
	if got[len(got)-1].Content != "latest" {
		t.Errorf("last message = %+v", got[len(got)-1])
	}
}

func TestBuildMessages_FilterAfterCap(t *testing.T) {
	// The cap applies to raw history; filtering happens on the kept
	// window, so non-chat roles inside the window reduce the count.
	var history []ChatMessage
	for i := 0; i < 30; i++ {
		history = append(history, NewSystemMessage("S"))
	}
	got := BuildMessages(history, "hello")
	if len(got) != 1 {
		t.Fatalf("len = %d, want just the appended user message", len(got))
	}
	if got[0].Content != "hello" {
		t.Errorf("got[0] = %+v", got[0])
	}
}

func TestLookupModel(t *testing.T) {
	if _, ok := LookupModel(DefaultModel); !ok {
		t.Error("default model missing from catalog")
	}
	if _, ok := LookupModel("nope/none"); ok {
		t.Error("unknown model found in catalog")
	}
}
