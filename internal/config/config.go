package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	// DataDir holds checkpoint files and the archive store. Empty means
	// the OS-specific default from DefaultDataDir.
	DataDir string `json:"dataDir" yaml:"dataDir"`

	// HTTPAddr is the listen address of the daemon API.
	HTTPAddr string `json:"httpAddr" yaml:"httpAddr"`

	// ConsumerURL receives forwarded status updates via HTTP POST.
	ConsumerURL string `json:"consumerUrl" yaml:"consumerUrl"`

	// RetryMinMs and RetryMaxMs bound the exponential retry backoff for
	// unacknowledged updates, in milliseconds.
	RetryMinMs int64 `json:"retryMinMs" yaml:"retryMinMs"`
	RetryMaxMs int64 `json:"retryMaxMs" yaml:"retryMaxMs"`

	// StrictRecovery makes boot fail on any unrecoverable stream instead
	// of counting it and carrying on.
	StrictRecovery bool `json:"strictRecovery" yaml:"strictRecovery"`

	// Archive enables copying terminated streams' checkpoint logs into
	// the archive store.
	Archive bool `json:"archive" yaml:"archive"`

	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	LogFormat string `json:"logFormat" yaml:"logFormat"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr:   ":8080",
		RetryMinMs: (10 * time.Second).Milliseconds(),
		RetryMaxMs: (10 * time.Minute).Milliseconds(),
		Archive:    true,
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If
// path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %q: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %q: %w", path, err)
		}
	}
	return cfg, nil
}

// RetryMin returns the initial retry interval.
func (c Config) RetryMin() time.Duration { return time.Duration(c.RetryMinMs) * time.Millisecond }

// RetryMax returns the retry interval ceiling.
func (c Config) RetryMax() time.Duration { return time.Duration(c.RetryMaxMs) * time.Millisecond }

// StreamsDir is the directory holding per-stream checkpoint files.
func (c Config) StreamsDir() string {
	return filepath.Join(c.DataDir, "streams")
}

// StreamPath resolves the checkpoint file of a stream. It must stay
// deterministic: recovery derives stream ids back from these paths.
func (c Config) StreamPath(streamID string) string {
	return filepath.Join(c.StreamsDir(), streamID, "updates")
}

// ArchiveDir is the directory of the pebble-backed archive store.
func (c Config) ArchiveDir() string {
	return filepath.Join(c.DataDir, "archive")
}
