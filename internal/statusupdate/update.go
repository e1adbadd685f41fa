package statusupdate

import (
	"errors"

	"github.com/google/uuid"
)

// Update is the unit of work managed by the Manager. The concrete payload
// is opaque; the Manager only needs identity, grouping, and lifecycle
// information.
type Update interface {
	// StatusUUID uniquely identifies this update attempt. uuid.Nil means
	// the producer failed to assign one, which the Manager rejects.
	StatusUUID() uuid.UUID

	// HasFrameworkID reports whether the update carries a framework id.
	HasFrameworkID() bool

	// FrameworkID returns the owning framework id. Only meaningful when
	// HasFrameworkID reports true.
	FrameworkID() string

	// Terminal reports whether the update represents a terminal lifecycle
	// state. Acknowledging a terminal update closes its stream.
	Terminal() bool
}

// Codec marshals update payloads into checkpoint records and back. The
// round-trip must be lossless: recovery replays checkpointed payloads into
// live pending queues.
type Codec interface {
	MarshalUpdate(Update) ([]byte, error)
	UnmarshalUpdate([]byte) (Update, error)
}

// ForwardSink receives each update that reaches the head of its stream's
// queue. It must not block: the consumer signals success only by
// eventually acknowledging the update's UUID.
type ForwardSink func(Update)

// PathFunc resolves the checkpoint file path for a stream. It must be
// deterministic so that recovery finds the same file.
type PathFunc func(streamID string) string

// Sentinel errors surfaced to callers.
var (
	// ErrMissingUUID rejects updates whose producer did not assign a
	// status UUID.
	ErrMissingUUID = errors.New("status update is missing a status uuid")

	// ErrDuplicateAck reports an acknowledgement that is a duplicate or
	// does not match the head of the stream's queue.
	ErrDuplicateAck = errors.New("duplicate status update acknowledgement")

	// ErrUnknownStream reports an acknowledgement for a stream the
	// Manager does not know about.
	ErrUnknownStream = errors.New("unknown status update stream")

	// ErrClosed reports an operation on a closed Manager.
	ErrClosed = errors.New("status update manager is closed")
)
