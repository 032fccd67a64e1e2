// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the kbchat command-line interface: argument
// parsing, the interactive chat REPL, the serve command, and the
// sessions and config management commands.
//
// Output styling degrades gracefully: lipgloss colors and glamour
// markdown rendering are enabled only on a TTY and respect NO_COLOR
// and FORCE_COLOR.
package cli
