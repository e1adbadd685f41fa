// Package runtime wires configuration, the status update manager, the
// HTTP forwarder, and the checkpoint archive into a single-node daemon
// runtime. Servers and CLI commands talk to a Runtime instead of
// assembling the pieces themselves.
package runtime
