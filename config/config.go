// Package config loads and persists the TOML runtime configuration:
// connection endpoint, subscription list, filtering mode and the view
// collaborator addresses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the runtime configuration. Subscriptions persist across runs and
// are replayed after the link comes up.
type Config struct {
	// Device endpoint. Address may be host:port for TCP, a ws:// URL for
	// WebSocket, or empty to discover via mDNS.
	Address string `toml:"address"`

	// SerialPort and Baud describe a direct serial endpoint for deployments
	// where the device hangs off a local port instead of the network.
	SerialPort string `toml:"port"`
	Baud       int    `toml:"baud"`

	// Strict rejects updates for paths that are neither subscribed nor
	// recently requested.
	Strict bool `toml:"require_subscription"`

	// Subscriptions restored on connect.
	Subscriptions []string `toml:"subscriptions"`

	// WebListen enables the HTTP view collaborator when non-empty.
	WebListen string `toml:"web_listen"`

	// HistoryDB enables persistent field history when non-empty.
	HistoryDB string `toml:"history_db"`

	LogLevel string `toml:"log_level"`
}

func Default() Config {
	return Config{
		Baud:     115200,
		Strict:   true,
		LogLevel: "info",
	}
}

// Load reads path and overlays it onto the defaults. A missing file is not an
// error: the defaults are returned so a fresh install starts clean.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw Config
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("port") {
		cfg.SerialPort = strings.TrimSpace(raw.SerialPort)
	}
	if meta.IsDefined("baud") {
		cfg.Baud = raw.Baud
	}
	if meta.IsDefined("require_subscription") {
		cfg.Strict = raw.Strict
	}
	if meta.IsDefined("subscriptions") {
		cfg.Subscriptions = raw.Subscriptions
	}
	if meta.IsDefined("web_listen") {
		cfg.WebListen = strings.TrimSpace(raw.WebListen)
	}
	if meta.IsDefined("history_db") {
		cfg.HistoryDB = strings.TrimSpace(raw.HistoryDB)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	return cfg, nil
}

// Save writes the configuration to path, creating parent directories as
// needed. Used to persist the subscription list on shutdown.
func Save(path string, cfg Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}
