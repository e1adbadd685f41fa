// Package taskstatus defines the task status update flavor managed by the
// relay daemon, plus its checkpoint codec.
package taskstatus

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/rzbill/relay/internal/statusupdate"
)

// State is a task lifecycle state.
type State string

// Task lifecycle states.
const (
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateFinished State = "FINISHED"
	StateFailed   State = "FAILED"
	StateKilled   State = "KILLED"
	StateLost     State = "LOST"
)

// Terminal reports whether the state is a lifecycle end state.
func (s State) Terminal() bool {
	switch s {
	case StateFinished, StateFailed, StateKilled, StateLost:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateStarting, StateRunning, StateFinished, StateFailed, StateKilled, StateLost:
		return true
	default:
		return false
	}
}

// TaskStatus is one status update for a task. UUID identifies this update
// attempt; a task emits many updates over its lifetime, each with a fresh
// UUID.
type TaskStatus struct {
	TaskID      string    `json:"taskId" cbor:"1,keyasint"`
	Framework   string    `json:"frameworkId,omitempty" cbor:"2,keyasint,omitempty"`
	State       State     `json:"state" cbor:"3,keyasint"`
	UUID        uuid.UUID `json:"uuid" cbor:"4,keyasint"`
	Message     string    `json:"message,omitempty" cbor:"5,keyasint,omitempty"`
	Data        []byte    `json:"data,omitempty" cbor:"6,keyasint,omitempty"`
	TimestampMs int64     `json:"timestampMs,omitempty" cbor:"7,keyasint,omitempty"`
}

var _ statusupdate.Update = (*TaskStatus)(nil)

// StatusUUID implements statusupdate.Update.
func (t *TaskStatus) StatusUUID() uuid.UUID { return t.UUID }

// HasFrameworkID implements statusupdate.Update.
func (t *TaskStatus) HasFrameworkID() bool { return t.Framework != "" }

// FrameworkID implements statusupdate.Update.
func (t *TaskStatus) FrameworkID() string { return t.Framework }

// Terminal implements statusupdate.Update.
func (t *TaskStatus) Terminal() bool { return t.State.Terminal() }

func (t *TaskStatus) String() string {
	return fmt.Sprintf("%s %s (UUID: %s)", t.State, t.TaskID, t.UUID)
}

// Codec marshals TaskStatus payloads for checkpoint frames.
type Codec struct{}

var _ statusupdate.Codec = Codec{}

// MarshalUpdate implements statusupdate.Codec.
func (Codec) MarshalUpdate(u statusupdate.Update) ([]byte, error) {
	ts, ok := u.(*TaskStatus)
	if !ok {
		return nil, fmt.Errorf("unexpected update type %T", u)
	}
	return cbor.Marshal(ts)
}

// UnmarshalUpdate implements statusupdate.Codec.
func (Codec) UnmarshalUpdate(b []byte) (statusupdate.Update, error) {
	var ts TaskStatus
	if err := cbor.Unmarshal(b, &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}
