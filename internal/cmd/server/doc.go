// Package serverrun boots the relay daemon: runtime wiring, stream
// recovery, the HTTP API, and signal-driven shutdown.
package serverrun
