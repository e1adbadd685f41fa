package config

import (
	"os"
	"strconv"
)

// FromEnv overlays RELAY_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("RELAY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("RELAY_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("RELAY_CONSUMER_URL"); v != "" {
		cfg.ConsumerURL = v
	}
	if v := os.Getenv("RELAY_RETRY_MIN_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RetryMinMs = n
		}
	}
	if v := os.Getenv("RELAY_RETRY_MAX_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RetryMaxMs = n
		}
	}
	if v := os.Getenv("RELAY_STRICT_RECOVERY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.StrictRecovery = b
		}
	}
	if v := os.Getenv("RELAY_ARCHIVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Archive = b
		}
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("RELAY_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
}
