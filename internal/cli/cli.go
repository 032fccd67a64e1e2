// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command dispatch for kbchat.
package cli

import (
	"fmt"
	"os"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdServe
	CmdSessions
	CmdConfig
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet     bool
	Model     string
	Knowledge string

	// Raw args remaining after the command name
	Raw []string
}

const usageText = `kbchat - knowledge-grounded AI chat

Kbchat answers questions grounded in a local knowledge base of
Markdown and text files, completing through OpenRouter.

Usage:
  kbchat                       Start interactive chat (default)
  kbchat chat                  Start interactive chat
  kbchat serve [--port PORT]   Run the HTTP API server
  kbchat sessions [subcommand] Session management
  kbchat config [subcommand]   Configuration
  kbchat version               Show version
  kbchat help                  Show this help

Session Commands:
  kbchat sessions list               List saved sessions
  kbchat sessions show <n|id>        Show a session transcript
  kbchat sessions export <n|id>      Export a session transcript
    --format md|json|txt             Export format (default: md)
    --output FILE                    Write to file (default: stdout)
  kbchat sessions delete <n|id> --confirm
                                     Delete a session

Config Commands:
  kbchat config show                 Show current configuration
  kbchat config set <key> <value>    Set a config value
                                     Keys: model, knowledge.dir, server.port
  kbchat config set-key              Set the OpenRouter API key (prompted)
    --encrypt                        Encrypt the key at rest (prompts for passphrase)

Interactive Commands (during chat):
  /help        Show available commands
  /clear       Clear the current conversation
  /model       Show or switch model
  /sessions    List sessions
  /new         Start a new session
  /switch <n>  Switch to another session
  /history     Show conversation history
  /quit        Exit chat

Global Flags:
  -q, --quiet       Minimal output
  --model NAME      Override default model
  --knowledge DIR   Override knowledge base directory

Environment:
  OPENROUTER_API_KEY     API key (overrides config file)
  KBCHAT_MODEL           Default model
  KBCHAT_KNOWLEDGE_DIR   Knowledge base directory
  KBCHAT_PORT            Server port
  KBCHAT_PASSPHRASE      Passphrase for an encrypted stored key

Examples:
  kbchat                              Chat with the knowledge assistant
  kbchat --model deepseek/deepseek-r1-0528:free
  kbchat serve                        Serve the HTTP API on :8080
  kbchat sessions export 1 --format md --output notes.md
  kbchat config set-key --encrypt

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("kbchat version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse parses command-line arguments and returns the command and args.
func Parse() (Command, Args) {
	remaining, parsed := parseGlobalFlags(os.Args[1:])

	// No command defaults to interactive chat.
	if len(remaining) == 0 {
		return CmdChat, parsed
	}

	cmd := strings.ToLower(remaining[0])
	parsed.Raw = remaining[1:]

	switch cmd {
	case "chat":
		return CmdChat, parsed

	case "serve", "server":
		return CmdServe, parsed

	case "session", "sessions":
		return CmdSessions, parsed

	case "config":
		return CmdConfig, parsed

	case "version", "-v", "--version":
		return CmdVersion, parsed

	case "help", "-h", "--help":
		return CmdHelp, parsed

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		return CmdHelp, parsed
	}
}

// parseGlobalFlags extracts global flags from args, returning the
// remaining arguments.
func parseGlobalFlags(args []string) ([]string, Args) {
	var parsed Args
	remaining := make([]string, 0, len(args))

	i := 0
	for i < len(args) {
		switch arg := args[i]; arg {
		case "-q", "--quiet":
			parsed.Quiet = true
			i++
		case "--model", "-m":
			if i+1 < len(args) {
				parsed.Model = args[i+1]
				i += 2
			} else {
				i++
			}
		case "--knowledge":
			if i+1 < len(args) {
				parsed.Knowledge = args[i+1]
				i += 2
			} else {
				i++
			}
		default:
			remaining = append(remaining, arg)
			i++
		}
	}
	return remaining, parsed
}
