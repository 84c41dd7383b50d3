// Package config reads and writes the global ~/.nchat/config.toml.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/lwei-dev/nchat/internal/chat"
)

// Config represents the global config.toml.
type Config struct {
	DefaultSession string      `toml:"default_session"`
	Chat           ChatConfig  `toml:"chat"`
	Archive        ArchiveJobs `toml:"archive"`
}

// ChatConfig tunes the in-memory conversation store.
type ChatConfig struct {
	PageSize             int `toml:"page_size"`
	CacheTTLSecs         int `toml:"cache_ttl_secs"`
	TextMatchWindowSecs  int `toml:"text_match_window_secs"`
	ImageMatchWindowSecs int `toml:"image_match_window_secs"`
}

// ArchiveJobs tunes archive maintenance.
type ArchiveJobs struct {
	RetentionDays        int `toml:"retention_days"`
	CleanupIntervalHours int `toml:"cleanup_interval_hours"`
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Chat: ChatConfig{
			PageSize:             30,
			CacheTTLSecs:         300,
			TextMatchWindowSecs:  60,
			ImageMatchWindowSecs: 10,
		},
		Archive: ArchiveJobs{
			RetentionDays:        365,
			CleanupIntervalHours: 24,
		},
	}
}

// StoreOptions converts the chat section into store options. Zero or missing
// values fall back to the store's own defaults.
func (c *Config) StoreOptions() chat.Options {
	return chat.Options{
		PageSize: c.Chat.PageSize,
		CacheTTL: time.Duration(c.Chat.CacheTTLSecs) * time.Second,
		Windows: chat.MatchWindows{
			Text:  time.Duration(c.Chat.TextMatchWindowSecs) * time.Second,
			Image: time.Duration(c.Chat.ImageMatchWindowSecs) * time.Second,
		},
	}
}

// Retention returns the archive retention period.
func (c *Config) Retention() time.Duration {
	days := c.Archive.RetentionDays
	if days <= 0 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

// CleanupInterval returns how often archive maintenance runs.
func (c *Config) CleanupInterval() time.Duration {
	hours := c.Archive.CleanupIntervalHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// Load reads config from the given path. A missing file yields the default
// configuration; a malformed one is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
