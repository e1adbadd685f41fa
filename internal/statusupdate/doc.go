// Package statusupdate implements reliable delivery of status updates.
//
// The Manager owns a set of per-producer update streams. Each accepted
// update is forwarded to a consumer-supplied sink and retried with bounded
// exponential backoff until the matching acknowledgement arrives. Streams
// may be checkpointed: every update and acknowledgement is then appended
// to a per-stream on-disk log before it is applied, so the stream can be
// replayed after a crash via Recover.
//
// The Manager is a single-threaded actor: public methods post commands
// into a mailbox drained by one goroutine, and retry timers deliver their
// expirations into the same mailbox. All stream state is therefore touched
// from one execution context and the package needs no locking.
//
// Delivery is at-least-once. Consumers deduplicate using the status UUID
// carried by every update; updates are forwarded in the order they were
// accepted within a stream, with no ordering across streams.
//
// The Manager never deletes checkpoint files. Garbage collection of the
// files of closed streams is the caller's responsibility.
package statusupdate
