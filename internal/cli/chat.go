// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command handler for the kbchat CLI.
//
// Handles "kbchat chat" (also the default command): a REPL over the
// knowledge-grounded session manager with streaming responses.
//
// Interactive Commands (during chat):
//
//	/help          Show available commands
//	/clear         Clear the current conversation
//	/model [name]  Show or switch model
//	/sessions      List sessions
//	/new           Start a new session
//	/switch <n>    Switch to another session
//	/history       Show conversation history
//	/quit          Exit chat
//	Ctrl+C         Cancel current generation
//	Ctrl+D         Exit chat
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/kbchat/internal/chat"
	"github.com/jeranaias/kbchat/internal/cloud"
	"github.com/jeranaias/kbchat/internal/config"
	"github.com/jeranaias/kbchat/internal/knowledge"
	"github.com/jeranaias/kbchat/internal/prompt"
	"github.com/jeranaias/kbchat/internal/util"
)

// ============================================================================
// Input History
// ============================================================================

// ChatCLI provides input history and line editing for interactive
// chat, with history persisted under the config directory.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI with input history support.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.loadHistory()
	return c
}

func (c *ChatCLI) loadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt. Non-empty
// input is added to history.
func (c *ChatCLI) ReadInput(promptText string) (string, error) {
	input, err := c.line.Prompt(promptText)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

func (c *ChatCLI) saveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.saveHistory()
	c.line.Close()
}

// ============================================================================
// Session State
// ============================================================================

// chatREPL holds the state for an interactive chat session.
type chatREPL struct {
	manager *chat.Manager
	client  *cloud.Client
	loader  knowledge.Loader
	input   *ChatCLI
	quiet   bool

	// useMarkdown means responses are collected and rendered at the
	// end; otherwise deltas stream straight to stdout.
	useMarkdown bool
	printed     int

	start time.Time

	// cancel is shared with the signal-handler goroutine.
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// setCancel installs (or clears) the cancel func for the in-flight
// generation.
func (s *chatREPL) setCancel(fn context.CancelFunc) {
	s.cancelMu.Lock()
	s.cancel = fn
	s.cancelMu.Unlock()
}

// interrupt cancels the in-flight generation, if any, and reports
// whether one was cancelled.
func (s *chatREPL) interrupt() bool {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// onStreamUpdate receives the full partial answer after each delta
// and prints the unseen suffix when streaming plain output.
func (s *chatREPL) onStreamUpdate(full string) {
	if s.useMarkdown {
		return
	}
	if len(full) > s.printed {
		fmt.Print(full[s.printed:])
		s.printed = len(full)
	}
}

// ============================================================================
// Chat Handler
// ============================================================================

// HandleChat handles the "chat" command.
func HandleChat(args Args) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}

	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	loader, cleanup := newLoader(cfg)
	defer cleanup()

	client := newCloudClient(cfg)

	repl := &chatREPL{
		client:      client,
		loader:      loader,
		quiet:       args.Quiet,
		useMarkdown: IsStdoutTTY(),
		start:       time.Now(),
	}

	manager, err := chat.NewManager(store, chat.StreamCompleter(client, chat.CompleterOptions{
		System: func() string {
			return prompt.System(loader.Knowledge(), "")
		},
		Model: func() string {
			return repl.manager.Model()
		},
		OnUpdate: repl.onStreamUpdate,
	}))
	if err != nil {
		return fmt.Errorf("failed to initialize sessions: %w", err)
	}
	repl.manager = manager

	if args.Model != "" {
		if err := manager.SetModel(args.Model); err != nil {
			return err
		}
	}

	if !client.IsConfigured() {
		fmt.Fprintf(os.Stderr, "%s No OpenRouter API key configured. Set OPENROUTER_API_KEY or run: kbchat config set-key\n",
			WarningStyle.Render("[Warning]"))
	}

	if !repl.quiet {
		printWelcome(repl)
	}

	repl.input = NewChatCLI()
	defer repl.input.Close()

	// First Ctrl+C during generation cancels the stream.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if repl.interrupt() {
				fmt.Fprintln(os.Stderr, "\n"+WarningStyle.Render("[Cancelled]"))
			}
		}
	}()

	for {
		input, err := repl.input.ReadInput(PromptStyle.Render("kbchat> "))
		if err != nil {
			// liner.ErrPromptAborted (Ctrl+C) and EOF (Ctrl+D) both
			// exit gracefully.
			fmt.Println()
			printExitSummary(repl)
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			keepGoing, err := handleSlashCommand(input, repl)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if !keepGoing {
				printExitSummary(repl)
				return nil
			}
			continue
		}

		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			printExitSummary(repl)
			return nil
		}

		if err := processMessage(repl, input); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
	}
}

// ============================================================================
// Message Processing
// ============================================================================

// processMessage sends a message through the manager and displays the
// streamed response.
func processMessage(s *chatREPL, input string) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.setCancel(cancel)
	defer func() {
		s.setCancel(nil)
		cancel()
	}()

	s.printed = 0
	start := time.Now()
	fmt.Println()

	msg, err := s.manager.Send(ctx, input)
	if err != nil {
		return err
	}

	if s.useMarkdown {
		displayResponse(msg.Content)
	} else if s.printed == 0 {
		// Nothing streamed (failure substitute or empty-stream
		// fallback); print the committed text.
		fmt.Print(msg.Content)
	}
	fmt.Println()
	fmt.Println()

	if !s.quiet {
		fmt.Fprintf(os.Stderr, "%s %s | %s\n",
			DimStyle.Render("[Stats]"),
			AccentStyle.Render(s.manager.Model()),
			time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// ============================================================================
// Slash Commands
// ============================================================================

// handleSlashCommand processes a slash command. Returns
// (keepGoing, error) where keepGoing=false means exit.
func handleSlashCommand(cmd string, s *chatREPL) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return true, nil
	}

	command := strings.ToLower(parts[0])
	cmdArgs := parts[1:]

	switch command {
	case "/help", "/h", "/?":
		printChatHelp()
		return true, nil

	case "/clear", "/c":
		if err := s.manager.Clear(); err != nil {
			return true, err
		}
		fmt.Println(SuccessStyle.Render("[Conversation cleared]"))
		return true, nil

	case "/model", "/m":
		return handleModelCommand(s, cmdArgs)

	case "/sessions", "/ls":
		printSessionList(s.manager)
		return true, nil

	case "/new", "/n":
		sess, err := s.manager.NewSession()
		if err != nil {
			return true, err
		}
		fmt.Printf("%s Started new session %s\n",
			SuccessStyle.Render("[OK]"), DimStyle.Render(sess.ID))
		return true, nil

	case "/switch", "/sw":
		if len(cmdArgs) == 0 {
			return true, ErrMissingArgument("session", "/switch 2")
		}
		sess, err := resolveSession(s.manager, cmdArgs[0])
		if err != nil {
			return true, err
		}
		if err := s.manager.SelectSession(sess.ID); err != nil {
			return true, err
		}
		fmt.Printf("%s Switched to %q\n", SuccessStyle.Render("[OK]"), sess.Title)
		return true, nil

	case "/history":
		printHistory(s.manager)
		return true, nil

	case "/quit", "/q", "/exit":
		return false, nil

	case "/":
		printChatHelp()
		return true, nil

	default:
		return true, fmt.Errorf("unknown command: %s (type /help for commands)", command)
	}
}

// handleModelCommand shows or switches the active model.
func handleModelCommand(s *chatREPL, cmdArgs []string) (bool, error) {
	if len(cmdArgs) == 0 {
		fmt.Printf("%s Current model: %s\n",
			DimStyle.Render("[Model]"), AccentStyle.Render(s.manager.Model()))
		fmt.Println(DimStyle.Render("Available:"))
		for _, m := range cloud.Models() {
			fmt.Printf("  %s  %s\n",
				AccentStyle.Render(util.PadRight(m.ID, 42)),
				DimStyle.Render(m.Name+" ("+m.Provider+")"))
		}
		return true, nil
	}

	id := cmdArgs[0]
	if _, ok := cloud.LookupModel(id); !ok {
		fmt.Fprintf(os.Stderr, "%s Model %q is not in the catalog, using anyway\n",
			WarningStyle.Render("[Warning]"), id)
	}
	if err := s.manager.SetModel(id); err != nil {
		return true, err
	}
	fmt.Printf("%s Switched to model: %s\n", SuccessStyle.Render("[OK]"), id)
	return true, nil
}

// ============================================================================
// Display
// ============================================================================

func printWelcome(s *chatREPL) {
	active := s.manager.ActiveSession()

	fmt.Println()
	fmt.Println(TitleStyle.Render("kbchat"))
	fmt.Println(RenderSeparator(30))
	fmt.Printf("%s %s\n", LabelStyle.Render("Model:"), AccentStyle.Render(s.manager.Model()))
	fmt.Printf("%s %s\n", LabelStyle.Render("Session:"), ValueStyle.Render(active.Title))
	fmt.Println()

	// The seeded greeting opens every conversation.
	for _, m := range s.manager.Messages() {
		if m.Role == "assistant" {
			fmt.Println(ValueStyle.Render(m.Content))
			break
		}
	}
	fmt.Println()
	fmt.Println(DimStyle.Render("Type your message and press Enter. Commands: /help, /quit"))
	fmt.Println()
}

func printChatHelp() {
	fmt.Println()
	fmt.Println(TitleStyle.Render("Available Commands"))
	fmt.Println(RenderSeparator(20))
	fmt.Println()

	commands := []struct {
		cmd  string
		desc string
	}{
		{"/help, /h", "Show this help"},
		{"/clear, /c", "Clear the current conversation"},
		{"/model [name]", "Show or switch model"},
		{"/sessions", "List sessions"},
		{"/new", "Start a new session"},
		{"/switch <n>", "Switch to another session"},
		{"/history", "Show conversation history"},
		{"/quit, /q", "Exit chat"},
	}
	for _, c := range commands {
		fmt.Printf("  %s  %s\n",
			AccentStyle.Render(fmt.Sprintf("%-15s", c.cmd)),
			DimStyle.Render(c.desc))
	}

	fmt.Println()
	fmt.Println(DimStyle.Render("Tip: Ctrl+C cancels current generation, Ctrl+D exits"))
	fmt.Println()
}

func printSessionList(m *chat.Manager) {
	active := m.ActiveSession()

	fmt.Println()
	fmt.Println(TitleStyle.Render("Sessions"))
	fmt.Println(RenderSeparator(20))
	for i, sess := range m.Sessions() {
		marker := "  "
		if sess.ID == active.ID {
			marker = AccentStyle.Render("* ")
		}
		fmt.Printf("%s%d. %s %s\n",
			marker, i+1,
			ValueStyle.Render(util.PadRight(sess.Title, 40)),
			DimStyle.Render(sess.UpdatedAt.Format("2006-01-02 15:04")))
	}
	fmt.Println()
}

func printHistory(m *chat.Manager) {
	messages := m.Messages()
	if len(messages) == 0 {
		fmt.Println(DimStyle.Render("[No messages yet]"))
		return
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render("Conversation History"))
	fmt.Println(RenderSeparator(25))
	fmt.Println()

	for i, msg := range messages {
		role := msg.Role
		switch role {
		case "user":
			role = PromptStyle.Render("You")
		case "assistant":
			role = AccentStyle.Render("AI")
		}

		content := strings.ReplaceAll(msg.Content, "\n", " ")
		fmt.Printf("  %d. %s: %s\n", i+1, role, util.TruncateRunes(content, 100))
	}
	fmt.Println()
}

func printExitSummary(s *chatREPL) {
	elapsed := time.Since(s.start).Round(time.Second)
	messages := 0
	for _, m := range s.manager.Messages() {
		if m.Role == "user" {
			messages++
		}
	}

	if messages > 0 {
		fmt.Println()
		fmt.Println(TitleStyle.Render("Session Summary"))
		fmt.Println(RenderSeparator(15))
		fmt.Printf("  %s %d\n", LabelStyle.Render("Messages:"), messages)
		fmt.Printf("  %s %s\n", LabelStyle.Render("Duration:"), elapsed)
		fmt.Println()
	}
	fmt.Println(DimStyle.Render("Goodbye!"))
}
