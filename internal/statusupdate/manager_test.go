package statusupdate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logpkg "github.com/rzbill/relay/pkg/log"
)

type testSink struct {
	mu  sync.Mutex
	got []Update
	ch  chan Update
}

func newTestSink() *testSink {
	return &testSink{ch: make(chan Update, 128)}
}

func (s *testSink) forward(u Update) {
	s.mu.Lock()
	s.got = append(s.got, u)
	s.mu.Unlock()
	select {
	case s.ch <- u:
	default:
	}
}

func (s *testSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func (s *testSink) wait(t *testing.T) Update {
	t.Helper()
	select {
	case u := <-s.ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for forward")
		return nil
	}
}

func (s *testSink) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case u := <-s.ch:
		t.Fatalf("unexpected forward of %s", u.StatusUUID())
	case <-time.After(d):
	}
}

type managerFixture struct {
	m       *Manager
	sink    *testSink
	pathFor PathFunc
}

func newTestManager(t *testing.T, retryMin, retryMax time.Duration) *managerFixture {
	t.Helper()
	dir := t.TempDir()
	sink := newTestSink()
	pathFor := func(id string) string {
		return filepath.Join(dir, "streams", id, "updates")
	}
	m := NewManager(Options{
		ForwardSink: sink.forward,
		PathFor:     pathFor,
		Codec:       testCodec{},
		RetryMin:    retryMin,
		RetryMax:    retryMax,
		Logger:      logpkg.NewTestLogger(),
	})
	t.Cleanup(m.Close)
	return &managerFixture{m: m, sink: sink, pathFor: pathFor}
}

func TestHappyPathCheckpointed(t *testing.T) {
	fx := newTestManager(t, time.Minute, time.Hour)
	ctx := context.Background()

	u := &testUpdate{ID: uid(1)}
	if err := fx.m.Update(ctx, u, "s1", true); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := fx.sink.wait(t); got.StatusUUID() != uid(1) {
		t.Fatalf("forwarded wrong update: %s", got.StatusUUID())
	}
	if _, err := os.Stat(fx.pathFor("s1")); err != nil {
		t.Fatalf("checkpoint file not created: %v", err)
	}

	alive, err := fx.m.Acknowledge(ctx, "s1", uid(1))
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !alive {
		t.Fatalf("non-terminal ack should keep the stream alive")
	}

	infos, err := fx.m.Streams(ctx)
	if err != nil {
		t.Fatalf("streams: %v", err)
	}
	if len(infos) != 1 || infos[0].Pending != 0 || !infos[0].Checkpointed {
		t.Fatalf("unexpected snapshot: %+v", infos)
	}
}

func TestDuplicateUpdateForwardsOnce(t *testing.T) {
	fx := newTestManager(t, time.Minute, time.Hour)
	ctx := context.Background()

	u := &testUpdate{ID: uid(3)}
	if err := fx.m.Update(ctx, u, "s1", false); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := fx.m.Update(ctx, u, "s1", false); err != nil {
		t.Fatalf("duplicate update should not error: %v", err)
	}
	fx.sink.wait(t)
	fx.sink.expectNone(t, 50*time.Millisecond)
	if fx.sink.count() != 1 {
		t.Fatalf("want exactly one forward, got %d", fx.sink.count())
	}
}

func TestRetryBackoffUntilAck(t *testing.T) {
	fx := newTestManager(t, 20*time.Millisecond, 80*time.Millisecond)
	ctx := context.Background()

	if err := fx.m.Update(ctx, &testUpdate{ID: uid(2)}, "s1", false); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Forwards at t=0 and then with doubling intervals 20, 40, 80, 80...
	fx.sink.wait(t)
	fx.sink.wait(t)
	fx.sink.wait(t)

	if _, err := fx.m.Acknowledge(ctx, "s1", uid(2)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	// Drain whatever was forwarded before the ack landed, then confirm
	// retries have stopped.
	time.Sleep(20 * time.Millisecond)
	for {
		select {
		case <-fx.sink.ch:
			continue
		default:
		}
		break
	}
	fx.sink.expectNone(t, 250*time.Millisecond)
}

func TestRetryIntervalIsBounded(t *testing.T) {
	fx := newTestManager(t, 10*time.Millisecond, 10*time.Millisecond)
	ctx := context.Background()

	if err := fx.m.Update(ctx, &testUpdate{ID: uid(2)}, "s1", false); err != nil {
		t.Fatalf("update: %v", err)
	}
	// With min=max=10ms, six forwards take about 50ms plus scheduling
	// slop; an unbounded doubling would need 10+20+40+80+160 = 310ms.
	start := time.Now()
	for i := 0; i < 6; i++ {
		fx.sink.wait(t)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("retries too slow, backoff ceiling ignored? elapsed=%v", elapsed)
	}
	if _, err := fx.m.Acknowledge(ctx, "s1", uid(2)); err != nil {
		t.Fatalf("ack: %v", err)
	}
}

func TestTerminalAckClosesStream(t *testing.T) {
	fx := newTestManager(t, time.Minute, time.Hour)
	ctx := context.Background()

	if err := fx.m.Update(ctx, &testUpdate{ID: uid(4), Term: true}, "s1", true); err != nil {
		t.Fatalf("update: %v", err)
	}
	fx.sink.wait(t)

	alive, err := fx.m.Acknowledge(ctx, "s1", uid(4))
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if alive {
		t.Fatalf("terminal ack should close the stream")
	}

	infos, err := fx.m.Streams(ctx)
	if err != nil {
		t.Fatalf("streams: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("stream should be gone: %+v", infos)
	}
	// The checkpoint file is left for the caller to garbage collect.
	if _, err := os.Stat(fx.pathFor("s1")); err != nil {
		t.Fatalf("checkpoint file should remain: %v", err)
	}
	if _, err := fx.m.Acknowledge(ctx, "s1", uid(4)); !errors.Is(err, ErrUnknownStream) {
		t.Fatalf("want ErrUnknownStream after cleanup, got %v", err)
	}
}

func TestQueuedUpdateForwardedAfterAck(t *testing.T) {
	fx := newTestManager(t, time.Minute, time.Hour)
	ctx := context.Background()

	if err := fx.m.Update(ctx, &testUpdate{ID: uid(1)}, "s1", false); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := fx.m.Update(ctx, &testUpdate{ID: uid(2)}, "s1", false); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := fx.sink.wait(t); got.StatusUUID() != uid(1) {
		t.Fatalf("first forward should be head: %s", got.StatusUUID())
	}
	fx.sink.expectNone(t, 50*time.Millisecond)

	if _, err := fx.m.Acknowledge(ctx, "s1", uid(1)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if got := fx.sink.wait(t); got.StatusUUID() != uid(2) {
		t.Fatalf("second forward should be next in queue: %s", got.StatusUUID())
	}
}

func TestDuplicateAckFails(t *testing.T) {
	fx := newTestManager(t, time.Minute, time.Hour)
	ctx := context.Background()

	if err := fx.m.Update(ctx, &testUpdate{ID: uid(1)}, "s1", false); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := fx.m.Update(ctx, &testUpdate{ID: uid(2)}, "s1", false); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := fx.m.Acknowledge(ctx, "s1", uid(1)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if _, err := fx.m.Acknowledge(ctx, "s1", uid(1)); !errors.Is(err, ErrDuplicateAck) {
		t.Fatalf("want ErrDuplicateAck, got %v", err)
	}
}

func TestCheckpointModeMismatchFails(t *testing.T) {
	fx := newTestManager(t, time.Minute, time.Hour)
	ctx := context.Background()

	if err := fx.m.Update(ctx, &testUpdate{ID: uid(1)}, "s1", true); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := fx.m.Update(ctx, &testUpdate{ID: uid(2)}, "s1", false); err == nil {
		t.Fatalf("expected checkpoint mismatch error")
	}
}

func TestFrameworkIDMismatchFails(t *testing.T) {
	fx := newTestManager(t, time.Minute, time.Hour)
	ctx := context.Background()

	if err := fx.m.Update(ctx, &testUpdate{ID: uid(1), Fw: "fw-1"}, "s1", false); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := fx.m.Update(ctx, &testUpdate{ID: uid(2), Fw: "fw-2"}, "s1", false); err == nil {
		t.Fatalf("expected framework mismatch error")
	}
	if err := fx.m.Update(ctx, &testUpdate{ID: uid(3)}, "s1", false); err == nil {
		t.Fatalf("expected missing-framework mismatch error")
	}
}

func TestPauseResume(t *testing.T) {
	fx := newTestManager(t, 20*time.Millisecond, 80*time.Millisecond)
	ctx := context.Background()

	if err := fx.m.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := fx.m.Update(ctx, &testUpdate{ID: uid(1)}, "s1", false); err != nil {
		t.Fatalf("update: %v", err)
	}
	fx.sink.expectNone(t, 100*time.Millisecond)

	if err := fx.m.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := fx.sink.wait(t); got.StatusUUID() != uid(1) {
		t.Fatalf("resume should forward head: %s", got.StatusUUID())
	}
}

func TestFrameworkCleanup(t *testing.T) {
	fx := newTestManager(t, time.Minute, time.Hour)
	ctx := context.Background()

	if err := fx.m.Update(ctx, &testUpdate{ID: uid(1), Fw: "F"}, "s1", true); err != nil {
		t.Fatalf("update s1: %v", err)
	}
	if err := fx.m.Update(ctx, &testUpdate{ID: uid(2), Fw: "F"}, "s2", true); err != nil {
		t.Fatalf("update s2: %v", err)
	}
	if err := fx.m.Update(ctx, &testUpdate{ID: uid(3), Fw: "G"}, "s3", false); err != nil {
		t.Fatalf("update s3: %v", err)
	}

	if err := fx.m.Cleanup(ctx, "F"); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	infos, err := fx.m.Streams(ctx)
	if err != nil {
		t.Fatalf("streams: %v", err)
	}
	if len(infos) != 1 || infos[0].ID != "s3" {
		t.Fatalf("only s3 should survive: %+v", infos)
	}
	// Files of the cleaned-up streams stay on disk.
	for _, id := range []string{"s1", "s2"} {
		if _, err := os.Stat(fx.pathFor(id)); err != nil {
			t.Fatalf("file for %s should remain: %v", id, err)
		}
	}
}

func TestRecoverResumesForwarding(t *testing.T) {
	dir := t.TempDir()
	pathFor := func(id string) string { return filepath.Join(dir, "streams", id, "updates") }
	ctx := context.Background()

	sink1 := newTestSink()
	m1 := NewManager(Options{
		ForwardSink: sink1.forward, PathFor: pathFor, Codec: testCodec{},
		RetryMin: time.Minute, RetryMax: time.Hour, Logger: logpkg.NewTestLogger(),
	})
	if err := m1.Update(ctx, &testUpdate{ID: uid(1)}, "s1", true); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := m1.Update(ctx, &testUpdate{ID: uid(2)}, "s1", true); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := m1.Acknowledge(ctx, "s1", uid(1)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	m1.Close()

	sink2 := newTestSink()
	m2 := NewManager(Options{
		ForwardSink: sink2.forward, PathFor: pathFor, Codec: testCodec{},
		RetryMin: time.Minute, RetryMax: time.Hour, Logger: logpkg.NewTestLogger(),
	})
	t.Cleanup(m2.Close)

	// A stream whose directory exists but whose file was never written
	// recovers as nil.
	if err := os.MkdirAll(filepath.Dir(pathFor("ghost")), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	state, err := m2.Recover(ctx, []string{"s1", "ghost"}, false)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if state.Errors != 0 {
		t.Fatalf("unexpected errors: %d", state.Errors)
	}
	st := state.Streams["s1"]
	if st == nil || len(st.Updates) != 2 || st.Terminated {
		t.Fatalf("unexpected s1 state: %+v", st)
	}
	if ghost, ok := state.Streams["ghost"]; !ok || ghost != nil {
		t.Fatalf("missing stream should be present as nil, got %v ok=%v", ghost, ok)
	}

	// The unacknowledged head is re-forwarded.
	if got := sink2.wait(t); got.StatusUUID() != uid(2) {
		t.Fatalf("recovered head mismatch: %s", got.StatusUUID())
	}
	if _, err := m2.Acknowledge(ctx, "s1", uid(2)); err != nil {
		t.Fatalf("ack after recovery: %v", err)
	}
}

func TestRecoverTerminatedStreamNotKeptLive(t *testing.T) {
	dir := t.TempDir()
	pathFor := func(id string) string { return filepath.Join(dir, "streams", id, "updates") }
	ctx := context.Background()

	sink1 := newTestSink()
	m1 := NewManager(Options{
		ForwardSink: sink1.forward, PathFor: pathFor, Codec: testCodec{},
		RetryMin: time.Minute, RetryMax: time.Hour, Logger: logpkg.NewTestLogger(),
	})
	if err := m1.Update(ctx, &testUpdate{ID: uid(1), Term: true}, "s1", true); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := m1.Acknowledge(ctx, "s1", uid(1)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	m1.Close()

	sink2 := newTestSink()
	m2 := NewManager(Options{
		ForwardSink: sink2.forward, PathFor: pathFor, Codec: testCodec{},
		RetryMin: time.Minute, RetryMax: time.Hour, Logger: logpkg.NewTestLogger(),
	})
	t.Cleanup(m2.Close)

	state, err := m2.Recover(ctx, []string{"s1"}, true)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	st := state.Streams["s1"]
	if st == nil || !st.Terminated {
		t.Fatalf("terminated flag lost: %+v", st)
	}
	infos, err := m2.Streams(ctx)
	if err != nil {
		t.Fatalf("streams: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("terminated stream must not be kept live: %+v", infos)
	}
	sink2.expectNone(t, 50*time.Millisecond)
}

func TestRecoverStrictTearsDownOnError(t *testing.T) {
	dir := t.TempDir()
	pathFor := func(id string) string { return filepath.Join(dir, "streams", id, "updates") }
	ctx := context.Background()

	sink1 := newTestSink()
	m1 := NewManager(Options{
		ForwardSink: sink1.forward, PathFor: pathFor, Codec: testCodec{},
		RetryMin: time.Minute, RetryMax: time.Hour, Logger: logpkg.NewTestLogger(),
	})
	if err := m1.Update(ctx, &testUpdate{ID: uid(1)}, "good", true); err != nil {
		t.Fatalf("update: %v", err)
	}
	m1.Close()

	// A lone ACK record is unrecoverable corruption.
	badPath := pathFor("bad")
	if err := os.MkdirAll(filepath.Dir(badPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	id := uid(9)
	frame, _ := EncodeFrame(&Record{Type: recordAck, UUID: id[:]})
	if err := os.WriteFile(badPath, frame, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	sink2 := newTestSink()
	m2 := NewManager(Options{
		ForwardSink: sink2.forward, PathFor: pathFor, Codec: testCodec{},
		RetryMin: time.Minute, RetryMax: time.Hour, Logger: logpkg.NewTestLogger(),
	})
	t.Cleanup(m2.Close)

	if _, err := m2.Recover(ctx, []string{"good", "bad"}, true); err == nil {
		t.Fatalf("strict recovery should fail")
	}
	infos, err := m2.Streams(ctx)
	if err != nil {
		t.Fatalf("streams: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("strict failure should tear down recovered streams: %+v", infos)
	}

	// Non-strict recovery counts the error and keeps the good stream.
	state, err := m2.Recover(ctx, []string{"good", "bad"}, false)
	if err != nil {
		t.Fatalf("non-strict recover: %v", err)
	}
	if state.Errors != 1 {
		t.Fatalf("want 1 error, got %d", state.Errors)
	}
	if st := state.Streams["good"]; st == nil || len(st.Updates) != 1 {
		t.Fatalf("good stream not recovered: %+v", st)
	}
}

func TestAckUnknownStream(t *testing.T) {
	fx := newTestManager(t, time.Minute, time.Hour)
	if _, err := fx.m.Acknowledge(context.Background(), "nope", uid(1)); !errors.Is(err, ErrUnknownStream) {
		t.Fatalf("want ErrUnknownStream, got %v", err)
	}
}

func TestUpdateMissingUUID(t *testing.T) {
	fx := newTestManager(t, time.Minute, time.Hour)
	if err := fx.m.Update(context.Background(), &testUpdate{}, "s1", false); !errors.Is(err, ErrMissingUUID) {
		t.Fatalf("want ErrMissingUUID, got %v", err)
	}
}

func TestClosedManagerRefusesOperations(t *testing.T) {
	fx := newTestManager(t, time.Minute, time.Hour)
	fx.m.Close()
	if err := fx.m.Update(context.Background(), &testUpdate{ID: uid(1)}, "s1", false); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}
