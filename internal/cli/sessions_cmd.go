// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sessions_cmd.go - Session management command handler.
//
// Command: sessions
// Subcommands: list (default), show, export, delete
package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jeranaias/kbchat/internal/chat"
	"github.com/jeranaias/kbchat/internal/util"
)

// HandleSessions handles the "sessions" command.
func HandleSessions(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}

	// Session commands never complete; no completer needed.
	manager, err := chat.NewManager(store, nil)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	parser := NewArgParser(args.Raw)
	switch parser.Subcommand() {
	case "", "list", "ls":
		printSessionList(manager)
		return nil

	case "show":
		return handleSessionShow(manager, parser)

	case "export":
		return handleSessionExport(manager, parser)

	case "delete", "rm":
		return handleSessionDelete(manager, parser)

	default:
		return &ValidationError{
			Field:   "subcommand",
			Value:   parser.Subcommand(),
			Reason:  "unknown sessions subcommand",
			Example: "kbchat sessions list",
		}
	}
}

// resolveSession finds a session by 1-based list index, full ID, or
// unique ID prefix.
func resolveSession(m *chat.Manager, ref string) (chat.Session, error) {
	sessions := m.Sessions()

	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(sessions) {
			return chat.Session{}, &NotFoundError{Resource: "session", ID: ref}
		}
		return sessions[n-1], nil
	}

	var match chat.Session
	found := 0
	for _, s := range sessions {
		if s.ID == ref {
			return s, nil
		}
		if strings.HasPrefix(s.ID, ref) {
			match = s
			found++
		}
	}
	switch found {
	case 1:
		return match, nil
	case 0:
		return chat.Session{}, &NotFoundError{Resource: "session", ID: ref}
	default:
		return chat.Session{}, &ValidationError{
			Field:  "session",
			Value:  ref,
			Reason: "ID prefix matches multiple sessions",
		}
	}
}

func handleSessionShow(m *chat.Manager, parser *ArgParser) error {
	ref := parser.Positional(1)
	if ref == "" {
		return ErrMissingArgument("session", "kbchat sessions show 1")
	}
	sess, err := resolveSession(m, ref)
	if err != nil {
		return err
	}
	transcript, err := m.Transcript(sess.ID)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(TitleStyle.Render(sess.Title))
	fmt.Printf("%s %s\n", LabelStyle.Render("ID:"), DimStyle.Render(sess.ID))
	fmt.Printf("%s %s\n", LabelStyle.Render("Created:"), sess.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Println(RenderSeparator(30))
	fmt.Println()

	for _, msg := range transcript {
		role := "AI"
		if msg.Role == "user" {
			role = "You"
		}
		fmt.Printf("%s %s\n%s\n\n",
			AccentStyle.Render(role+":"),
			DimStyle.Render(msg.Timestamp.Format("15:04")),
			ValueStyle.Render(msg.Content))
	}
	return nil
}

func handleSessionExport(m *chat.Manager, parser *ArgParser) error {
	ref := parser.Positional(1)
	if ref == "" {
		return ErrMissingArgument("session", "kbchat sessions export 1 --format md")
	}
	sess, err := resolveSession(m, ref)
	if err != nil {
		return err
	}
	transcript, err := m.Transcript(sess.ID)
	if err != nil {
		return err
	}

	format := parser.FlagOrDefault("format", "md")
	var out string
	switch format {
	case "md", "markdown":
		out = exportMarkdown(sess, transcript)
	case "json":
		data, err := json.MarshalIndent(struct {
			Session  chat.Session   `json:"session"`
			Messages []chat.Message `json:"messages"`
		}{sess, transcript}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode transcript: %w", err)
		}
		out = string(data) + "\n"
	case "txt", "text":
		out = exportText(sess, transcript)
	default:
		return &ValidationError{
			Field:   "format",
			Value:   format,
			Reason:  "unsupported format",
			Example: "--format md|json|txt",
		}
	}

	if path := parser.Flag("output"); path != "" {
		if err := util.AtomicWriteFile(path, []byte(out), 0644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		fmt.Printf("%s Exported to %s\n", SuccessStyle.Render("[OK]"), path)
		return nil
	}
	fmt.Print(out)
	return nil
}

// exportMarkdown renders a transcript as a Markdown document.
func exportMarkdown(sess chat.Session, transcript []chat.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", sess.Title)
	fmt.Fprintf(&sb, "_Exported %s, created %s_\n\n",
		sess.UpdatedAt.Format("2006-01-02 15:04"),
		sess.CreatedAt.Format("2006-01-02 15:04"))

	for _, msg := range transcript {
		role := "Assistant"
		if msg.Role == "user" {
			role = "You"
		}
		fmt.Fprintf(&sb, "**%s** (%s):\n\n%s\n\n---\n\n",
			role, msg.Timestamp.Format("15:04"), msg.Content)
	}
	return sb.String()
}

// exportText renders a transcript as plain text.
func exportText(sess chat.Session, transcript []chat.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s\n\n", sess.Title, strings.Repeat("=", len(sess.Title)))
	for _, msg := range transcript {
		role := "AI"
		if msg.Role == "user" {
			role = "You"
		}
		fmt.Fprintf(&sb, "[%s] %s:\n%s\n\n", msg.Timestamp.Format("15:04"), role, msg.Content)
	}
	return sb.String()
}

func handleSessionDelete(m *chat.Manager, parser *ArgParser) error {
	ref := parser.Positional(1)
	if ref == "" {
		return ErrMissingArgument("session", "kbchat sessions delete 1 --confirm")
	}
	if !parser.BoolFlag("confirm") {
		return &ValidationError{
			Field:   "confirm",
			Reason:  "deletion requires the --confirm flag",
			Example: "kbchat sessions delete 1 --confirm",
		}
	}

	sess, err := resolveSession(m, ref)
	if err != nil {
		return err
	}
	if err := m.DeleteSession(sess.ID); err != nil {
		return err
	}
	fmt.Printf("%s Deleted session %q\n", SuccessStyle.Render("[OK]"), sess.Title)
	return nil
}
