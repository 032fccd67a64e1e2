// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// setup.go - Shared wiring for CLI command handlers: config loading,
// session store, knowledge loader, and cloud client construction.
package cli

import (
	"fmt"
	"os"

	"github.com/jeranaias/kbchat/internal/chat"
	"github.com/jeranaias/kbchat/internal/cloud"
	"github.com/jeranaias/kbchat/internal/config"
	"github.com/jeranaias/kbchat/internal/knowledge"
)

// loadConfig loads configuration and applies global CLI flag
// overrides on top.
func loadConfig(args Args) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if args.Model != "" {
		cfg.Cloud.Model = args.Model
	}
	if args.Knowledge != "" {
		cfg.Knowledge.Dir = args.Knowledge
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the configured session store backend.
func openStore(cfg *config.Config) (chat.Store, error) {
	if cfg.Storage.Backend == "memory" {
		return chat.NewMemoryStore(), nil
	}

	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	switch cfg.Storage.Backend {
	case "file":
		return chat.NewFileStore(path)
	default:
		return chat.NewSQLiteStore(path)
	}
}

// newLoader builds the knowledge loader. With watch enabled the
// fsnotify-backed cached loader is used; the returned cleanup func
// must be called on exit.
func newLoader(cfg *config.Config) (knowledge.Loader, func()) {
	if cfg.Knowledge.Watch {
		w, err := knowledge.NewWatcher(cfg.Knowledge.Dir, 0)
		if err == nil {
			if err = w.Watch(); err != nil {
				w.Close()
			}
		}
		if err == nil {
			return w, func() { w.Close() }
		}
		fmt.Fprintf(os.Stderr, "%s knowledge watcher unavailable, re-reading per request: %v\n",
			WarningStyle.Render("[Warning]"), err)
	}
	return knowledge.DirLoader{Dir: cfg.Knowledge.Dir}, func() {}
}

// newCloudClient builds the OpenRouter client from config.
func newCloudClient(cfg *config.Config) *cloud.Client {
	return cloud.NewClient(cfg.Cloud.APIKey).
		WithModel(cfg.Cloud.Model).
		WithTemperature(cfg.Cloud.Temperature).
		WithReferer(cfg.Cloud.Referer)
}
