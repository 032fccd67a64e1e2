// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// messages.go - Wire types and the history rule for upstream requests.
package cloud

// ChatMessage is a single message in the OpenRouter wire format.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a user-role message.
func NewUserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// NewAssistantMessage creates an assistant-role message.
func NewAssistantMessage(content string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: content}
}

// NewSystemMessage creates a system-role message.
func NewSystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// ChatRequest is the request body for /chat/completions.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

// ChatResponse is the non-streaming response body.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Content returns the first choice's message content, or "".
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// BuildMessages applies the history rule: keep the last HistoryLimit
// entries, filter to user and assistant roles, then append userMsg as
// a new user message. The append is idempotent: if the last kept
// entry is already a user message with identical content, it is not
// appended again.
func BuildMessages(history []ChatMessage, userMsg string) []ChatMessage {
	recent := history
	if len(recent) > HistoryLimit {
		recent = recent[len(recent)-HistoryLimit:]
	}

	out := make([]ChatMessage, 0, len(recent)+1)
	for _, m := range recent {
		if m.Role == "user" || m.Role == "assistant" {
			out = append(out, m)
		}
	}

	if n := len(out); n > 0 && out[n-1].Role == "user" && out[n-1].Content == userMsg {
		return out
	}
	return append(out, NewUserMessage(userMsg))
}
