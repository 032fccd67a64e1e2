// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - HTTP server command handler for the kbchat CLI.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jeranaias/kbchat/internal/server"
)

// HandleServe handles the "serve" command: runs the HTTP API until
// SIGINT or SIGTERM, then shuts down gracefully.
func HandleServe(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	if v := NewArgParser(args.Raw).Flag("port"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 65535 {
			return &ValidationError{Field: "port", Value: v, Reason: "must be a port number between 1 and 65535"}
		}
		cfg.Server.Port = p
	}

	loader, cleanup := newLoader(cfg)
	defer cleanup()

	client := newCloudClient(cfg)
	if !client.IsConfigured() {
		fmt.Fprintf(os.Stderr, "%s No OpenRouter API key configured; chat endpoints will return errors\n",
			WarningStyle.Render("[Warning]"))
	}

	srv := server.New(cfg, client, loader, Version, nil)

	if !args.Quiet {
		fmt.Printf("%s http://%s:%d\n",
			SuccessStyle.Render("Serving on"), cfg.Server.Host, cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
