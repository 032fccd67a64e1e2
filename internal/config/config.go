// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Configuration loading and persistence for kbchat.
//
// Configuration lives at ~/.kbchat/config.toml. Environment variables
// override file values at load time. The OpenRouter API key may be
// stored encrypted at rest (ENC: prefix, see secret.go); it is
// decrypted transparently when KBCHAT_PASSPHRASE is set.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/kbchat/internal/util"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the root configuration for kbchat.
type Config struct {
	Server    ServerConfig    `toml:"server" json:"server"`
	Cloud     CloudConfig     `toml:"cloud" json:"cloud"`
	Knowledge KnowledgeConfig `toml:"knowledge" json:"knowledge"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Host is the listen address. Default: 127.0.0.1
	Host string `toml:"host" json:"host"`
	// Port is the listen port. Default: 8080
	Port int `toml:"port" json:"port"`
	// RateLimitRPS is the per-client request rate limit. Default: 10
	RateLimitRPS float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`
	// MaxBodyBytes caps request body size. Default: 1 MiB
	MaxBodyBytes int64 `toml:"max_body_bytes" json:"max_body_bytes"`
}

// CloudConfig contains OpenRouter settings.
type CloudConfig struct {
	// APIKey is the OpenRouter API key. May carry the ENC: prefix
	// when stored encrypted at rest.
	APIKey string `toml:"api_key" json:"api_key"`
	// Model is the default completion model.
	Model string `toml:"model" json:"model"`
	// Temperature is the default sampling temperature.
	Temperature float64 `toml:"temperature" json:"temperature"`
	// Referer is sent as the HTTP-Referer header on upstream calls.
	Referer string `toml:"referer" json:"referer"`
}

// KnowledgeConfig contains knowledge base settings.
type KnowledgeConfig struct {
	// Dir is the knowledge base directory. Default: ./content
	Dir string `toml:"dir" json:"dir"`
	// Watch enables the fsnotify-backed cached loader.
	Watch bool `toml:"watch" json:"watch"`
}

// StorageConfig selects the session store backend.
type StorageConfig struct {
	// Backend is one of "sqlite", "file", "memory". Default: sqlite
	Backend string `toml:"backend" json:"backend"`
	// Path is the store location. Default: ~/.kbchat/sessions.db
	// (sqlite) or ~/.kbchat/store (file).
	Path string `toml:"path" json:"path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			RateLimitRPS: 10,
			MaxBodyBytes: 1 << 20,
		},
		Cloud: CloudConfig{
			APIKey:      "",
			Model:       "xiaomi/mimo-v2-flash:free",
			Temperature: 0.7,
			Referer:     "https://github.com/jeranaias/kbchat",
		},
		Knowledge: KnowledgeConfig{
			Dir:   "content",
			Watch: false,
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "",
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the kbchat configuration directory path (~/.kbchat).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".kbchat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists with owner-only
// permissions.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the config file, fills defaults, and applies environment
// overrides. A missing config file is not an error; defaults are used.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if err := LoadFromPath(cfg, path); err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.decryptKey(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath decodes the TOML file at path into cfg. A missing file
// leaves cfg untouched.
func LoadFromPath(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// Save writes cfg to the config file atomically with owner-only
// permissions (the file may hold an API key).
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	var sb strings.Builder
	enc := toml.NewEncoder(&sb)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, []byte(sb.String()), 0600)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the
// config. Environment values win over file values.
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.Cloud.APIKey = key
	}
	if model := os.Getenv("KBCHAT_MODEL"); model != "" {
		c.Cloud.Model = model
	}
	if dir := os.Getenv("KBCHAT_KNOWLEDGE_DIR"); dir != "" {
		c.Knowledge.Dir = dir
	}
	if port := os.Getenv("KBCHAT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 && p < 65536 {
			c.Server.Port = p
		}
	}
}

// decryptKey resolves an ENC:-prefixed API key using the passphrase
// from KBCHAT_PASSPHRASE. A plaintext key passes through unchanged.
func (c *Config) decryptKey() error {
	if !IsEncrypted(c.Cloud.APIKey) {
		return nil
	}
	pass := os.Getenv("KBCHAT_PASSPHRASE")
	if pass == "" {
		return fmt.Errorf("api_key is encrypted but KBCHAT_PASSPHRASE is not set")
	}
	plain, err := DecryptString(c.Cloud.APIKey, pass)
	if err != nil {
		return fmt.Errorf("failed to decrypt api_key: %w", err)
	}
	c.Cloud.APIKey = plain
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks config invariants before the server starts.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if c.Cloud.Temperature < 0 || c.Cloud.Temperature > 2 {
		return fmt.Errorf("cloud.temperature %v out of range [0, 2]", c.Cloud.Temperature)
	}
	switch c.Storage.Backend {
	case "sqlite", "file", "memory":
	default:
		return fmt.Errorf("storage.backend %q not one of sqlite, file, memory", c.Storage.Backend)
	}
	return nil
}

// StorePath returns the effective session store path for the
// configured backend, defaulting under the config directory.
func (c *Config) StorePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	switch c.Storage.Backend {
	case "file":
		return filepath.Join(dir, "store"), nil
	default:
		return filepath.Join(dir, "sessions.db"), nil
	}
}
