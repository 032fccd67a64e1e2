// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// consumer.go - Accumulates a streamed completion into one message.
package chat

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/jeranaias/kbchat/internal/cloud"
	"github.com/jeranaias/kbchat/internal/sse"
)

// Consumer folds stream deltas into a single growing buffer. After
// every delta the full buffer so far is republished through onUpdate,
// so a renderer always paints the complete partial answer rather
// than stitching deltas itself.
type Consumer struct {
	mu       sync.Mutex
	buf      strings.Builder
	onUpdate func(full string)
}

// NewConsumer creates a Consumer. onUpdate may be nil.
func NewConsumer(onUpdate func(full string)) *Consumer {
	return &Consumer{onUpdate: onUpdate}
}

// Run consumes a raw upstream stream until the terminal event or end
// of stream and returns the final answer: the trimmed buffer, or
// FallbackText when nothing arrived. On any stream failure the buffer
// is discarded and the error returned; the caller commits ApologyText.
func (c *Consumer) Run(stream io.Reader) (string, error) {
	defer c.reset()

	err := sse.Pipe(stream, func(ev sse.Event) error {
		if ev.Done {
			return nil
		}
		c.mu.Lock()
		c.buf.WriteString(ev.Content)
		full := c.buf.String()
		c.mu.Unlock()

		if c.onUpdate != nil {
			c.onUpdate(full)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	final := strings.TrimSpace(c.buf.String())
	if final == "" {
		return FallbackText, nil
	}
	return final, nil
}

// Buffer returns the accumulated text so far.
func (c *Consumer) Buffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *Consumer) reset() {
	c.mu.Lock()
	c.buf.Reset()
	c.mu.Unlock()
}

// CompleterOptions configure the cloud-backed Completer adapters.
// System and Model are evaluated per call, so knowledge reloads and
// model switches take effect on the next turn.
type CompleterOptions struct {
	// System supplies the system prompt prepended to every request.
	System func() string
	// Model supplies the model ID; empty means the client default.
	Model func() string
	// OnUpdate receives the full partial answer after each delta
	// (streaming adapter only).
	OnUpdate func(full string)
}

func (o CompleterOptions) apply(req *cloud.ChatRequest, messages []cloud.ChatMessage) {
	if o.System != nil {
		if sys := o.System(); sys != "" {
			messages = append([]cloud.ChatMessage{cloud.NewSystemMessage(sys)}, messages...)
		}
	}
	req.Messages = messages
	if o.Model != nil {
		if model := o.Model(); model != "" {
			req.Model = model
		}
	}
}

// StreamCompleter adapts a cloud client into a streaming Completer:
// each call opens an upstream stream, republishes partials through
// OnUpdate, and resolves to the final committed text.
func StreamCompleter(client *cloud.Client, opts CompleterOptions) Completer {
	return func(ctx context.Context, messages []cloud.ChatMessage) (string, error) {
		req := client.NewStreamRequest(nil)
		opts.apply(&req, messages)

		stream, err := client.ChatStream(ctx, req)
		if err != nil {
			return "", err
		}
		defer stream.Close()

		return NewConsumer(opts.OnUpdate).Run(stream)
	}
}

// SyncCompleter adapts a cloud client into a non-streaming Completer.
func SyncCompleter(client *cloud.Client, opts CompleterOptions) Completer {
	return func(ctx context.Context, messages []cloud.ChatMessage) (string, error) {
		req := client.NewRequest(nil)
		opts.apply(&req, messages)
		return client.Chat(ctx, req)
	}
}
