package taskstatus

import (
	"testing"

	"github.com/google/uuid"
)

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateStarting, StateRunning} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	for _, s := range []State{StateFinished, StateFailed, StateKilled, StateLost} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

func TestCodecRoundTrip(t *testing.T) {
	in := &TaskStatus{
		TaskID:      "task-1",
		Framework:   "fw-1",
		State:       StateRunning,
		UUID:        uuid.MustParse("11111111-2222-3333-4444-555555555555"),
		Message:     "healthy",
		Data:        []byte{1, 2, 3},
		TimestampMs: 1700000000000,
	}
	b, err := Codec{}.MarshalUpdate(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Codec{}.UnmarshalUpdate(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, ok := got.(*TaskStatus)
	if !ok {
		t.Fatalf("unexpected type %T", got)
	}
	if out.TaskID != in.TaskID || out.Framework != in.Framework || out.State != in.State ||
		out.UUID != in.UUID || out.Message != in.Message || out.TimestampMs != in.TimestampMs {
		t.Fatalf("round trip mismatch: %+v vs %+v", out, in)
	}
	if !out.HasFrameworkID() || out.FrameworkID() != "fw-1" {
		t.Fatalf("framework accessors: %+v", out)
	}
}

func TestCodecRejectsForeignUpdates(t *testing.T) {
	if _, err := (Codec{}).MarshalUpdate(nil); err == nil {
		t.Fatalf("expected error for foreign update type")
	}
}
