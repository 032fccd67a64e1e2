// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// kbchat - knowledge-grounded AI chat.
//
// Answers questions grounded in a local knowledge base, completing
// through OpenRouter. Runs as an interactive terminal chat or as an
// HTTP API server.
package main

import (
	"github.com/jeranaias/kbchat/internal/cli"
)

// Version information (set at build time via -ldflags)
var (
	version   = "0.1.0"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = gitCommit
	cli.BuildDate = buildDate
}

func main() {
	command, args := cli.Parse()

	var err error
	switch command {
	case cli.CmdChat:
		err = cli.HandleChat(args)
	case cli.CmdServe:
		err = cli.HandleServe(args)
	case cli.CmdSessions:
		err = cli.HandleSessions(args)
	case cli.CmdConfig:
		err = cli.HandleConfig(args)
	case cli.CmdVersion:
		cli.PrintVersion()
	case cli.CmdHelp:
		cli.PrintUsage()
	}

	if err != nil {
		cli.HandleErrorAndExit(err)
	}
}
