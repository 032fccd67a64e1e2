// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeranaias/kbchat/internal/chat"
)

// =============================================================================
// ARGUMENT PARSING
// =============================================================================

func TestArgParser(t *testing.T) {
	p := NewArgParser([]string{"export", "1", "--format=json", "--output", "out.md", "--confirm"})

	if p.Subcommand() != "export" {
		t.Errorf("Subcommand() = %q, want %q", p.Subcommand(), "export")
	}
	if p.Positional(1) != "1" {
		t.Errorf("Positional(1) = %q, want %q", p.Positional(1), "1")
	}
	if p.Flag("format") != "json" {
		t.Errorf("Flag(format) = %q, want %q", p.Flag("format"), "json")
	}
	if p.Flag("output") != "out.md" {
		t.Errorf("Flag(output) = %q, want %q", p.Flag("output"), "out.md")
	}
	if !p.BoolFlag("confirm") {
		t.Error("BoolFlag(confirm) = false, want true")
	}
}

func TestArgParserEmpty(t *testing.T) {
	p := NewArgParser(nil)
	if p.Subcommand() != "" {
		t.Errorf("Subcommand() = %q, want empty", p.Subcommand())
	}
	if p.Positional(5) != "" {
		t.Error("Positional out of range should return empty string")
	}
	if p.PositionalFrom(1) != nil {
		t.Error("PositionalFrom out of range should return nil")
	}
}

func TestArgParserFlagOrDefault(t *testing.T) {
	p := NewArgParser([]string{"export", "1"})
	if got := p.FlagOrDefault("format", "md"); got != "md" {
		t.Errorf("FlagOrDefault = %q, want %q", got, "md")
	}
}

func TestParseGlobalFlags(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		remaining []string
		quiet     bool
		model     string
		knowledge string
	}{
		{"no flags", []string{"serve"}, []string{"serve"}, false, "", ""},
		{"quiet short", []string{"-q", "chat"}, []string{"chat"}, true, "", ""},
		{"model", []string{"--model", "openai/gpt-4o-mini"}, []string{}, false, "openai/gpt-4o-mini", ""},
		{"model short", []string{"-m", "x"}, []string{}, false, "x", ""},
		{"knowledge", []string{"--knowledge", "docs", "serve"}, []string{"serve"}, false, "", "docs"},
		{"mixed order", []string{"sessions", "--quiet", "list"}, []string{"sessions", "list"}, true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remaining, parsed := parseGlobalFlags(tt.args)
			if len(remaining) != len(tt.remaining) {
				t.Fatalf("remaining = %v, want %v", remaining, tt.remaining)
			}
			for i := range remaining {
				if remaining[i] != tt.remaining[i] {
					t.Errorf("remaining = %v, want %v", remaining, tt.remaining)
				}
			}
			if parsed.Quiet != tt.quiet {
				t.Errorf("Quiet = %v, want %v", parsed.Quiet, tt.quiet)
			}
			if parsed.Model != tt.model {
				t.Errorf("Model = %q, want %q", parsed.Model, tt.model)
			}
			if parsed.Knowledge != tt.knowledge {
				t.Errorf("Knowledge = %q, want %q", parsed.Knowledge, tt.knowledge)
			}
		})
	}
}

// =============================================================================
// SESSION RESOLUTION
// =============================================================================

func newTestManager(t *testing.T) *chat.Manager {
	t.Helper()
	m, err := chat.NewManager(chat.NewMemoryStore(), nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestResolveSessionByIndex(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.NewSession(); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	sessions := m.Sessions()

	got, err := resolveSession(m, "2")
	if err != nil {
		t.Fatalf("resolveSession(2) failed: %v", err)
	}
	if got.ID != sessions[1].ID {
		t.Errorf("resolveSession(2) = %q, want %q", got.ID, sessions[1].ID)
	}
}

func TestResolveSessionByID(t *testing.T) {
	m := newTestManager(t)
	want := m.Sessions()[0]

	got, err := resolveSession(m, want.ID)
	if err != nil {
		t.Fatalf("resolveSession failed: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("resolveSession = %q, want %q", got.ID, want.ID)
	}

	got, err = resolveSession(m, want.ID[:8])
	if err != nil {
		t.Fatalf("resolveSession by prefix failed: %v", err)
	}
	if got.ID != want.ID {
		t.Errorf("resolveSession by prefix = %q, want %q", got.ID, want.ID)
	}
}

func TestResolveSessionNotFound(t *testing.T) {
	m := newTestManager(t)

	for _, ref := range []string{"99", "0", "no-such-id"} {
		_, err := resolveSession(m, ref)
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("resolveSession(%q) error = %v, want NotFoundError", ref, err)
		}
	}
}

// =============================================================================
// EXPORT FORMATTING
// =============================================================================

func exportFixture() (chat.Session, []chat.Message) {
	ts := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	sess := chat.Session{
		ID:        "fixture",
		Title:     "Widget pricing",
		CreatedAt: ts,
		UpdatedAt: ts.Add(5 * time.Minute),
	}
	transcript := []chat.Message{
		{ID: "1", Role: "user", Content: "How much do widgets cost?", Timestamp: ts},
		{ID: "2", Role: "assistant", Content: "Widgets cost five dollars.", Timestamp: ts.Add(time.Minute)},
	}
	return sess, transcript
}

func TestExportMarkdown(t *testing.T) {
	sess, transcript := exportFixture()
	out := exportMarkdown(sess, transcript)

	if !strings.HasPrefix(out, "# Widget pricing\n") {
		t.Errorf("markdown export should start with title heading, got %q", out[:40])
	}
	for _, want := range []string{"**You**", "**Assistant**", "How much do widgets cost?", "Widgets cost five dollars."} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown export missing %q", want)
		}
	}
}

func TestExportText(t *testing.T) {
	sess, transcript := exportFixture()
	out := exportText(sess, transcript)

	if !strings.HasPrefix(out, "Widget pricing\n==============\n") {
		t.Errorf("text export should start with underlined title, got %q", out[:40])
	}
	if !strings.Contains(out, "[09:30] You:") {
		t.Errorf("text export missing user turn header:\n%s", out)
	}
	if !strings.Contains(out, "[09:31] AI:") {
		t.Errorf("text export missing assistant turn header:\n%s", out)
	}
}

func TestExportJSONShape(t *testing.T) {
	sess, transcript := exportFixture()
	data, err := json.Marshal(struct {
		Session  chat.Session   `json:"session"`
		Messages []chat.Message `json:"messages"`
	}{sess, transcript})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded struct {
		Session  chat.Session   `json:"session"`
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded.Session.Title != "Widget pricing" {
		t.Errorf("Title = %q, want %q", decoded.Session.Title, "Widget pricing")
	}
	if len(decoded.Messages) != 2 {
		t.Errorf("len(Messages) = %d, want 2", len(decoded.Messages))
	}
}

// =============================================================================
// REPL INTERRUPTS
// =============================================================================

func TestChatREPLInterrupt(t *testing.T) {
	s := &chatREPL{}

	if s.interrupt() {
		t.Error("interrupt with nothing in flight should report false")
	}

	cancelled := 0
	s.setCancel(func() { cancelled++ })
	if !s.interrupt() {
		t.Error("interrupt should cancel the in-flight generation")
	}
	if cancelled != 1 {
		t.Errorf("cancel called %d times, want 1", cancelled)
	}
	if s.interrupt() {
		t.Error("second interrupt should be a no-op")
	}
}

func TestChatREPLInterruptConcurrent(t *testing.T) {
	s := &chatREPL{}
	var cancels atomic.Int64
	s.setCancel(func() { cancels.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.interrupt()
		}()
	}
	wg.Wait()

	if cancels.Load() != 1 {
		t.Errorf("cancel called %d times under contention, want exactly 1", cancels.Load())
	}
}

// =============================================================================
// ERRORS AND DISPLAY
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", &ValidationError{Field: "format", Reason: "bad"}, ExitUsageError},
		{"not found", &NotFoundError{Resource: "session", ID: "1"}, ExitNotFound},
		{"config", errors.New("failed to parse config: bad toml"), ExitConfigError},
		{"network", errors.New("dial tcp 127.0.0.1:8080: connection refused"), ExitNetworkError},
		{"generic", errors.New("something broke"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetExitCode(tt.err); got != tt.want {
				t.Errorf("GetExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestDescribeKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", "(not set)"},
		{"ENC:abc123", "(set, encrypted)"},
		{"sk-or-v1-abcdef123456", "sk-o...3456"},
		{"short", "(set)"},
	}
	for _, tt := range tests {
		if got := describeKey(tt.key); got != tt.want {
			t.Errorf("describeKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
