// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// manager.go - Session and message state over a KV store.
//
// The Manager owns the session list, the active session's messages,
// and a per-session generation counter. Every mutation persists
// synchronously before returning, so a crash never loses a committed
// message. Completions run outside the lock; their commit is dropped
// when the session's generation has moved on (the user cleared,
// edited, regenerated, or switched away in the meantime).
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/kbchat/internal/cloud"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// Store keys. The prefix scheme matches the browser client this
// backend replaces, so an exported localStorage dump imports cleanly.
const (
	sessionsKey       = "knowledge-ai-sessions"
	messagesKeyPrefix = "knowledge-ai-messages-"
	activeSessionKey  = "knowledge-ai-active-session"
	modelKey          = "knowledge-ai-model"
)

const (
	// DefaultTitle is the title of a session before its first user
	// message.
	DefaultTitle = "New Chat"

	// titleMaxRunes caps derived session titles.
	titleMaxRunes = 40

	// WelcomeText seeds every new or cleared session.
	WelcomeText = "👋 Hello! I'm your Knowledge AI assistant. I can answer questions based on my specialized knowledge base. How can I help you today?"

	// FallbackText is committed when a completion produces no text.
	FallbackText = "I couldn't generate a response."

	// ApologyText is committed when a completion fails.
	ApologyText = "Sorry, I encountered an error. Please try again!"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyMessage rejects blank user input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSessionNotFound indicates an unknown session ID.
	ErrSessionNotFound = errors.New("session not found")
	// ErrMessageNotFound indicates an unknown message ID.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotUserMessage rejects Regenerate on a non-user message.
	ErrNotUserMessage = errors.New("not a user message")
)

// =============================================================================
// TYPES
// =============================================================================

// Session is one conversation in the session list.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one entry in a session transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Completer produces an assistant reply for a message list. It runs
// outside the Manager lock; implementations may stream internally and
// must honor ctx.
type Completer func(ctx context.Context, messages []cloud.ChatMessage) (string, error)

// Manager coordinates sessions, messages, persistence, and
// completions.
type Manager struct {
	mu       sync.Mutex
	store    Store
	complete Completer

	sessions []Session
	active   string
	messages []Message // transcript of the active session

	// generation is bumped whenever a session's in-flight work
	// becomes invalid; commits carry the generation they started
	// under and are dropped on mismatch.
	generation map[string]uint64
}

// NewManager loads state from store, healing corrupted entries, and
// guarantees at least one session exists and is active.
func NewManager(store Store, complete Completer) (*Manager, error) {
	m := &Manager{
		store:      store,
		complete:   complete,
		generation: make(map[string]uint64),
	}

	m.loadSessions()

	if len(m.sessions) == 0 {
		if _, err := m.newSessionLocked(); err != nil {
			return nil, err
		}
		return m, nil
	}

	if raw, ok, _ := store.Get(activeSessionKey); ok && m.findSession(raw) >= 0 {
		m.active = raw
	} else {
		m.active = m.sessions[0].ID
	}
	m.messages = m.loadMessages(m.active)
	return m, nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Sessions returns a copy of the session list, newest first.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// ActiveSession returns the active session.
func (m *Manager) ActiveSession() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.findSession(m.active); i >= 0 {
		return m.sessions[i]
	}
	return Session{}
}

// Messages returns a copy of the active session's transcript.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Transcript returns a copy of any session's transcript without
// changing the active selection.
func (m *Manager) Transcript(id string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findSession(id) < 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if id == m.active {
		out := make([]Message, len(m.messages))
		copy(out, m.messages)
		return out, nil
	}
	return m.loadMessages(id), nil
}

// Model returns the persisted model selection, or the default.
func (m *Manager) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok, _ := m.store.Get(modelKey); ok && v != "" {
		return v
	}
	return cloud.DefaultModel
}

// SetModel persists the model selection.
func (m *Manager) SetModel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Set(modelKey, id)
}

// =============================================================================
// SESSION OPERATIONS
// =============================================================================

// NewSession creates a session, makes it active, and seeds it with
// the welcome message.
func (m *Manager) NewSession() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newSessionLocked()
}

func (m *Manager) newSessionLocked() (Session, error) {
	now := time.Now()
	s := Session{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// New sessions go to the front, like the sidebar they feed.
	m.sessions = append([]Session{s}, m.sessions...)
	m.bumpLocked(m.active)
	m.active = s.ID
	m.messages = []Message{newWelcome()}

	if err := m.persistSessionsLocked(); err != nil {
		return Session{}, err
	}
	if err := m.persistMessagesLocked(s.ID); err != nil {
		return Session{}, err
	}
	return s, nil
}

// SelectSession makes id the active session and loads its transcript.
func (m *Manager) SelectSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findSession(id) < 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if id == m.active {
		return nil
	}

	// Navigating away invalidates work streaming into the old
	// session.
	m.bumpLocked(m.active)
	m.active = id
	m.messages = m.loadMessages(id)
	return m.store.Set(activeSessionKey, id)
}

// DeleteSession removes a session and its messages. Deleting the
// active session switches to the first remaining one, or creates a
// fresh session when none remain.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.findSession(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
	m.bumpLocked(id)
	delete(m.generation, id)

	if err := m.store.Delete(messagesKeyPrefix + id); err != nil {
		return err
	}

	if m.active == id {
		if len(m.sessions) > 0 {
			m.active = m.sessions[0].ID
			m.messages = m.loadMessages(m.active)
		} else {
			if _, err := m.newSessionLocked(); err != nil {
				return err
			}
			return nil
		}
	}
	return m.persistSessionsLocked()
}

// Clear resets the active session to a single welcome message.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bumpLocked(m.active)
	m.messages = []Message{newWelcome()}
	return m.persistMessagesLocked(m.active)
}

// =============================================================================
// MESSAGE OPERATIONS
// =============================================================================

// Send appends text as a user message and completes against the full
// transcript. The committed assistant message is returned; when the
// completion fails, that message is the fixed apology.
func (m *Manager) Send(ctx context.Context, text string) (Message, error) {
	m.mu.Lock()

	userMsg, err := m.appendUserLocked(text)
	if err != nil {
		m.mu.Unlock()
		return Message{}, err
	}

	return m.completeLocked(ctx, userMsg.Content)
}

// Edit replaces the message identified by id: the transcript is
// truncated strictly before it, newText is appended as a brand-new
// user message, and a completion runs against the result.
func (m *Manager) Edit(ctx context.Context, id, newText string) (Message, error) {
	m.mu.Lock()

	// Validate before touching the transcript so a rejected edit
	// leaves the conversation untouched.
	if strings.TrimSpace(newText) == "" {
		m.mu.Unlock()
		return Message{}, ErrEmptyMessage
	}

	i := m.findMessage(id)
	if i < 0 {
		m.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}

	m.bumpLocked(m.active)
	m.messages = m.messages[:i]

	userMsg, err := m.appendUserLocked(newText)
	if err != nil {
		m.mu.Unlock()
		return Message{}, err
	}

	return m.completeLocked(ctx, userMsg.Content)
}

// Regenerate discards everything after the user message identified by
// id and completes again from that point.
func (m *Manager) Regenerate(ctx context.Context, id string) (Message, error) {
	m.mu.Lock()

	i := m.findMessage(id)
	if i < 0 {
		m.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	if m.messages[i].Role != "user" {
		m.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %s", ErrNotUserMessage, id)
	}

	m.bumpLocked(m.active)
	m.messages = m.messages[:i+1]
	if err := m.persistMessagesLocked(m.active); err != nil {
		m.mu.Unlock()
		return Message{}, err
	}

	return m.completeLocked(ctx, m.messages[i].Content)
}

// =============================================================================
// COMPLETION
// =============================================================================

// completeLocked runs the completer outside the lock and commits the
// result under the captured generation. Callers enter holding the
// lock; it is released before the completer runs.
func (m *Manager) completeLocked(ctx context.Context, userText string) (Message, error) {
	sessionID := m.active
	gen := m.generation[sessionID]
	wire := toWire(m.messages)
	m.mu.Unlock()

	content := ApologyText
	text, err := m.complete(ctx, cloud.BuildMessages(wire, userText))
	if err != nil {
		log.Printf("COMPLETION_FAILED | session=%s error=%v", sessionID, err)
	} else {
		content = text
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitAssistantLocked(sessionID, gen, content)
}

// commitAssistantLocked appends an assistant message if the target
// session is still active at the same generation; stale results are
// dropped.
func (m *Manager) commitAssistantLocked(sessionID string, gen uint64, content string) (Message, error) {
	if sessionID != m.active || m.generation[sessionID] != gen {
		log.Printf("STALE_COMPLETION_DROPPED | session=%s gen=%d", sessionID, gen)
		return Message{}, nil
	}

	msg := Message{
		ID:        uuid.NewString(),
		Role:      "assistant",
		Content:   content,
		Timestamp: time.Now(),
	}
	m.messages = append(m.messages, msg)
	m.touchSessionLocked(sessionID)

	if err := m.persistMessagesLocked(sessionID); err != nil {
		return Message{}, err
	}
	if err := m.persistSessionsLocked(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// appendUserLocked validates and appends a user message, deriving the
// session title from the first user message, and persists.
func (m *Manager) appendUserLocked(text string) (Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Message{}, ErrEmptyMessage
	}

	msg := Message{
		ID:        uuid.NewString(),
		Role:      "user",
		Content:   trimmed,
		Timestamp: time.Now(),
	}
	m.messages = append(m.messages, msg)

	if i := m.findSession(m.active); i >= 0 && m.sessions[i].Title == DefaultTitle {
		m.sessions[i].Title = deriveTitle(trimmed)
	}
	m.touchSessionLocked(m.active)

	if err := m.persistMessagesLocked(m.active); err != nil {
		return Message{}, err
	}
	if err := m.persistSessionsLocked(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

func (m *Manager) persistSessionsLocked() error {
	data, err := json.Marshal(m.sessions)
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	if err := m.store.Set(sessionsKey, string(data)); err != nil {
		return err
	}
	return m.store.Set(activeSessionKey, m.active)
}

func (m *Manager) persistMessagesLocked(sessionID string) error {
	data, err := json.Marshal(m.messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	return m.store.Set(messagesKeyPrefix+sessionID, string(data))
}

// loadSessions reads the session list, wiping the key when it fails
// to decode.
func (m *Manager) loadSessions() {
	raw, ok, err := m.store.Get(sessionsKey)
	if err != nil || !ok {
		m.sessions = nil
		return
	}
	var sessions []Session
	if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
		log.Printf("SESSIONS_CORRUPTED | error=%v", err)
		m.store.Delete(sessionsKey)
		m.sessions = nil
		return
	}
	m.sessions = sessions
}

// loadMessages reads a session transcript. Corrupted or empty data
// heals to a fresh welcome transcript.
func (m *Manager) loadMessages(sessionID string) []Message {
	raw, ok, err := m.store.Get(messagesKeyPrefix + sessionID)
	if err == nil && ok {
		var msgs []Message
		if err := json.Unmarshal([]byte(raw), &msgs); err == nil && len(msgs) > 0 {
			return msgs
		}
		log.Printf("MESSAGES_CORRUPTED | session=%s", sessionID)
	}
	return []Message{newWelcome()}
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Manager) findSession(id string) int {
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) findMessage(id string) int {
	for i := range m.messages {
		if m.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) bumpLocked(sessionID string) {
	if sessionID != "" {
		m.generation[sessionID]++
	}
}

func (m *Manager) touchSessionLocked(sessionID string) {
	if i := m.findSession(sessionID); i >= 0 {
		m.sessions[i].UpdatedAt = time.Now()
	}
}

func newWelcome() Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      "assistant",
		Content:   WelcomeText,
		Timestamp: time.Now(),
	}
}

// deriveTitle builds a session title from the first user message:
// the trimmed text, cut to 40 runes plus an ellipsis when longer.
func deriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleMaxRunes {
		return text
	}
	return string(runes[:titleMaxRunes]) + "..."
}

func toWire(msgs []Message) []cloud.ChatMessage {
	out := make([]cloud.ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, cloud.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}
