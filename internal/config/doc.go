// Package config provides loading and environment overlay for relay
// configuration. It exposes a Default() baseline, file loading in JSON or
// YAML, and RELAY_* environment overrides.
//
// Example:
//
//	cfg := config.Default()
//	if fileCfg, err := config.Load("/etc/relay.yaml"); err == nil {
//	    cfg = fileCfg
//	}
//	config.FromEnv(&cfg)
package config
