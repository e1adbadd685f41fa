// Package client implements the relay CLI client commands. Most commands
// talk to the daemon HTTP API; the checkpoint tooling works directly on
// checkpoint files.
package client
