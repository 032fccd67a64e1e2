// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Configuration command handler.
//
// Command: config
// Subcommands: show (default), set, set-key
package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/jeranaias/kbchat/internal/config"
)

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	parser := NewArgParser(args.Raw)
	switch parser.Subcommand() {
	case "", "show":
		return handleConfigShow()
	case "set":
		return handleConfigSet(parser)
	case "set-key":
		return handleConfigSetKey(parser)
	default:
		return &ValidationError{
			Field:   "subcommand",
			Value:   parser.Subcommand(),
			Reason:  "unknown config subcommand",
			Example: "kbchat config show",
		}
	}
}

func handleConfigShow() error {
	cfg, err := loadFileConfig()
	if err != nil {
		return err
	}
	path, _ := config.ConfigPath()

	fmt.Println()
	fmt.Println(TitleStyle.Render("Configuration"))
	fmt.Printf("%s %s\n", LabelStyle.Render("File:"), DimStyle.Render(path))
	fmt.Println(RenderSeparator(40))
	printConfigLine("model", cfg.Cloud.Model)
	printConfigLine("api key", describeKey(cfg.Cloud.APIKey))
	printConfigLine("temperature", fmt.Sprintf("%.1f", cfg.Cloud.Temperature))
	printConfigLine("knowledge.dir", cfg.Knowledge.Dir)
	printConfigLine("knowledge.watch", strconv.FormatBool(cfg.Knowledge.Watch))
	printConfigLine("storage.backend", cfg.Storage.Backend)
	printConfigLine("server.host", cfg.Server.Host)
	printConfigLine("server.port", strconv.Itoa(cfg.Server.Port))
	fmt.Println()
	return nil
}

func printConfigLine(key, value string) {
	fmt.Printf("  %s %s\n", LabelStyle.Render(key+":"), ValueStyle.Render(value))
}

// describeKey masks an API key for display. Encrypted keys are shown
// as encrypted rather than decrypted.
func describeKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case config.IsEncrypted(key):
		return "(set, encrypted)"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "(set)"
	}
}

// configSetters maps settable keys to field updates.
var configSetters = map[string]func(*config.Config, string) error{
	"model": func(c *config.Config, v string) error {
		c.Cloud.Model = v
		return nil
	},
	"knowledge.dir": func(c *config.Config, v string) error {
		c.Knowledge.Dir = v
		return nil
	},
	"knowledge.watch": func(c *config.Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ValidationError{Field: "knowledge.watch", Value: v, Reason: "must be true or false"}
		}
		c.Knowledge.Watch = b
		return nil
	},
	"storage.backend": func(c *config.Config, v string) error {
		switch v {
		case "sqlite", "file", "memory":
			c.Storage.Backend = v
			return nil
		}
		return &ValidationError{Field: "storage.backend", Value: v, Reason: "must be sqlite, file, or memory"}
	},
	"server.host": func(c *config.Config, v string) error {
		c.Server.Host = v
		return nil
	},
	"server.port": func(c *config.Config, v string) error {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 65535 {
			return &ValidationError{Field: "server.port", Value: v, Reason: "must be a port number between 1 and 65535"}
		}
		c.Server.Port = p
		return nil
	},
	"temperature": func(c *config.Config, v string) error {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 || t > 2 {
			return &ValidationError{Field: "temperature", Value: v, Reason: "must be a number between 0 and 2"}
		}
		c.Cloud.Temperature = t
		return nil
	},
}

func handleConfigSet(parser *ArgParser) error {
	key := parser.Positional(1)
	value := parser.Positional(2)
	if key == "" || value == "" {
		return ErrMissingArgument("key and value", "kbchat config set model openai/gpt-4o-mini")
	}

	setter, ok := configSetters[key]
	if !ok {
		keys := make([]string, 0, len(configSetters))
		for k := range configSetters {
			keys = append(keys, k)
		}
		return &ValidationError{
			Field:   "key",
			Value:   key,
			Reason:  "unknown config key",
			Example: "one of: " + strings.Join(keys, ", "),
		}
	}

	cfg, err := loadFileConfig()
	if err != nil {
		return err
	}
	if err := setter(cfg, value); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return err
	}
	fmt.Printf("%s %s = %s\n", SuccessStyle.Render("[OK]"), key, value)
	return nil
}

func handleConfigSetKey(parser *ArgParser) error {
	if err := RequiresTTY("config set-key"); err != nil {
		return err
	}

	fmt.Fprint(os.Stderr, "OpenRouter API key: ")
	keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}
	key := strings.TrimSpace(string(keyBytes))
	if key == "" {
		return &ValidationError{Field: "api key", Reason: "key must not be empty"}
	}

	if parser.BoolFlag("encrypt") {
		fmt.Fprint(os.Stderr, "Passphrase: ")
		passBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("failed to read passphrase: %w", err)
		}
		pass := string(passBytes)
		if pass == "" {
			return &ValidationError{Field: "passphrase", Reason: "passphrase must not be empty"}
		}
		key, err = config.EncryptString(key, pass)
		if err != nil {
			return fmt.Errorf("failed to encrypt key: %w", err)
		}
	}

	cfg, err := loadFileConfig()
	if err != nil {
		return err
	}
	cfg.Cloud.APIKey = key
	if err := config.Save(cfg); err != nil {
		return err
	}
	fmt.Printf("%s API key saved\n", SuccessStyle.Render("[OK]"))
	if config.IsEncrypted(key) {
		fmt.Println(DimStyle.Render("Set KBCHAT_PASSPHRASE to unlock the key at startup."))
	}
	return nil
}

// loadFileConfig reads the on-disk config without environment
// overrides or key decryption, so saving it back never persists
// ambient state.
func loadFileConfig() (*config.Config, error) {
	cfg := config.Default()
	path, err := config.ConfigPath()
	if err != nil {
		return nil, err
	}
	if err := config.LoadFromPath(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}
