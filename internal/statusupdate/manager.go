package statusupdate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	logpkg "github.com/rzbill/relay/pkg/log"
)

// Default retry bounds, used when Options leaves them zero.
const (
	DefaultRetryMin = 10 * time.Second
	DefaultRetryMax = 10 * time.Minute
)

// State is the result of Recover. A nil StreamState means the stream's
// checkpoint file did not exist or held no complete update. Errors counts
// the recoverable problems found during non-strict recovery.
type State struct {
	Streams map[string]*StreamState
	Errors  uint32
}

// StreamInfo is a point-in-time snapshot of one live stream.
type StreamInfo struct {
	ID           string `json:"id"`
	FrameworkID  string `json:"frameworkId,omitempty"`
	Pending      int    `json:"pending"`
	Terminated   bool   `json:"terminated"`
	Checkpointed bool   `json:"checkpointed"`
}

// Options configures a Manager.
type Options struct {
	// ForwardSink receives every head-of-queue update. Required.
	ForwardSink ForwardSink

	// PathFor resolves the checkpoint file path of a stream. Required.
	PathFor PathFunc

	// Codec marshals update payloads for checkpointing. Required.
	Codec Codec

	// RetryMin and RetryMax bound the exponential retry backoff.
	RetryMin time.Duration
	RetryMax time.Duration

	Logger logpkg.Logger
}

// Manager routes status updates and acknowledgements across streams,
// retries unacknowledged updates, and drives checkpointing and recovery.
// See the package documentation for the execution model.
type Manager struct {
	logger   logpkg.Logger
	codec    Codec
	forward  ForwardSink
	pathFor  PathFunc
	retryMin time.Duration
	retryMax time.Duration

	mailbox   chan func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	// Actor-owned state; only the run goroutine touches it.
	streams          map[string]*stream
	frameworkStreams map[string]map[string]struct{}
	paused           bool
	now              func() time.Time
}

// NewManager creates a Manager and starts its actor goroutine.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	retryMin := opts.RetryMin
	if retryMin <= 0 {
		retryMin = DefaultRetryMin
	}
	retryMax := opts.RetryMax
	if retryMax <= 0 {
		retryMax = DefaultRetryMax
	}
	m := &Manager{
		logger:           logger.WithComponent("status-update-manager"),
		codec:            opts.Codec,
		forward:          opts.ForwardSink,
		pathFor:          opts.PathFor,
		retryMin:         retryMin,
		retryMax:         retryMax,
		mailbox:          make(chan func(), 64),
		done:             make(chan struct{}),
		stopped:          make(chan struct{}),
		streams:          make(map[string]*stream),
		frameworkStreams: make(map[string]map[string]struct{}),
		now:              time.Now,
	}
	go m.run()
	return m
}

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		select {
		case fn := <-m.mailbox:
			fn()
		case <-m.done:
			// Drain whatever was enqueued before Close.
			for {
				select {
				case fn := <-m.mailbox:
					fn()
				default:
					for _, s := range m.streams {
						s.close()
					}
					return
				}
			}
		}
	}
}

// Close stops the actor and closes every stream's checkpoint file. Late
// retry timers become no-ops. Close is idempotent.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.done) })
	<-m.stopped
}

// call posts fn to the mailbox and waits for it to run.
func (m *Manager) call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	wrapped := func() {
		fn()
		close(ran)
	}
	select {
	case m.mailbox <- wrapped:
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-m.stopped:
		// The drain in run may have executed fn before stopping.
		select {
		case <-ran:
			return nil
		default:
			return ErrClosed
		}
	}
}

// post delivers fn to the mailbox without waiting; used by timers.
func (m *Manager) post(fn func()) {
	select {
	case m.mailbox <- fn:
	case <-m.done:
	}
}

// Update submits a status update on the given stream, creating the stream
// if it does not exist. With checkpoint=true the update is durably logged
// before it is applied; either way it is retried until acknowledged. A
// duplicate update is dropped without error.
func (m *Manager) Update(ctx context.Context, u Update, streamID string, checkpoint bool) error {
	var err error
	if cerr := m.call(ctx, func() { err = m.update(u, streamID, checkpoint) }); cerr != nil {
		return cerr
	}
	return err
}

func (m *Manager) update(u Update, streamID string, checkpoint bool) error {
	m.logger.Debug("received status update", logpkg.Str("stream", streamID))

	s, ok := m.streams[streamID]
	if !ok {
		var err error
		s, err = m.createStream(streamID, u, checkpoint)
		if err != nil {
			return err
		}
	}

	// Refuse a non-checkpointable update on a checkpointable stream and
	// vice-versa.
	if s.checkpointed() != checkpoint {
		return fmt.Errorf(
			"mismatched checkpoint value for status update on stream %s (expected checkpoint=%t actual checkpoint=%t)",
			streamID, s.checkpointed(), checkpoint)
	}

	// The update's framework id must match the stream's.
	if u.HasFrameworkID() != s.hasFramework {
		return fmt.Errorf(
			"mismatched framework id for status update on stream %s (expected %s got %s)",
			streamID, describeFramework(s.hasFramework, s.frameworkID),
			describeFramework(u.HasFrameworkID(), u.FrameworkID()))
	}
	if u.HasFrameworkID() && u.FrameworkID() != s.frameworkID {
		return fmt.Errorf(
			"mismatched framework id for status update on stream %s (expected %s actual %s)",
			streamID, s.frameworkID, u.FrameworkID())
	}

	handled, err := s.update(u)
	if err != nil {
		return err
	}
	if !handled {
		// Duplicate; already logged by the stream.
		return nil
	}

	// Forward if this update is at the front of the queue. Subsequent
	// updates are forwarded as their predecessors are acknowledged.
	if !m.paused && len(s.pending) == 1 {
		m.forwardUpdate(streamID, s, s.next(), m.retryMin)
	}
	return nil
}

func describeFramework(has bool, id string) string {
	if !has {
		return "no framework id"
	}
	return id
}

// Acknowledge processes the acknowledgement of a status update. It
// returns true when the stream is still alive afterwards, false when the
// acknowledged update was terminal and the stream was closed.
func (m *Manager) Acknowledge(ctx context.Context, streamID string, id uuid.UUID) (bool, error) {
	var alive bool
	var err error
	if cerr := m.call(ctx, func() { alive, err = m.acknowledge(streamID, id) }); cerr != nil {
		return false, cerr
	}
	return alive, err
}

func (m *Manager) acknowledge(streamID string, id uuid.UUID) (bool, error) {
	m.logger.Debug("received status update acknowledgement",
		logpkg.Str("stream", streamID), logpkg.Str("uuid", id.String()))

	// The stream may not exist if recovery has not completed yet or if it
	// has already been cleaned up.
	s, ok := m.streams[streamID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownStream, streamID)
	}

	handled, err := s.acknowledgement(id)
	if err != nil {
		return false, err
	}
	if !handled {
		return false, ErrDuplicateAck
	}

	s.deadline = time.Time{}

	next := s.next()
	terminated := s.terminated
	if terminated {
		if next != nil {
			m.logger.Warn("acknowledged a terminal status update but updates are still pending",
				logpkg.Str("stream", streamID))
		}
		m.cleanupStream(streamID)
	} else if !m.paused && next != nil {
		m.forwardUpdate(streamID, s, next, m.retryMin)
	}

	return !terminated, nil
}

// Recover rebuilds streams from their checkpoint files. With strict=true
// any stream error tears down everything recovered so far and fails;
// otherwise errors are counted and recovery continues. Recovered streams
// that are not terminated resume forwarding immediately unless paused.
func (m *Manager) Recover(ctx context.Context, streamIDs []string, strict bool) (*State, error) {
	var state *State
	var err error
	if cerr := m.call(ctx, func() { state, err = m.recover(streamIDs, strict) }); cerr != nil {
		return nil, cerr
	}
	return state, err
}

func (m *Manager) recover(streamIDs []string, strict bool) (*State, error) {
	m.logger.Info("recovering status update manager", logpkg.Int("streams", len(streamIDs)))

	state := &State{Streams: make(map[string]*StreamState)}
	var recovered []string
	for _, streamID := range streamIDs {
		streamState, err := m.recoverStream(streamID, strict)
		if err != nil {
			m.logger.Warn("failed to recover status update stream",
				logpkg.Str("stream", streamID), logpkg.Err(err))

			if strict {
				for _, id := range recovered {
					m.cleanupStream(id)
				}
				return nil, fmt.Errorf("recovering status update stream %s: %w", streamID, err)
			}
			state.Errors++
			continue
		}
		if streamState == nil {
			state.Streams[streamID] = nil
			continue
		}
		state.Streams[streamID] = streamState
		if _, live := m.streams[streamID]; live {
			recovered = append(recovered, streamID)
		}
		if streamState.Error {
			state.Errors++
		}
	}
	return state, nil
}

// recoverStream recovers one stream and, unless it is terminated, adds it
// to the live maps and resumes forwarding its head-of-queue update.
func (m *Manager) recoverStream(streamID string, strict bool) (*StreamState, error) {
	m.logger.Debug("recovering status update stream", logpkg.Str("stream", streamID))

	s, streamState, err := recoverStream(streamID, m.pathFor(streamID), strict, m.codec, m.logger)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}

	if s.terminated {
		// The terminal update was already acknowledged; nothing to retry.
		s.close()
		return streamState, nil
	}

	if s.hasFramework {
		m.indexFramework(s.frameworkID, streamID)
	}
	m.streams[streamID] = s

	if next := s.next(); !m.paused && next != nil {
		m.forwardUpdate(streamID, s, next, m.retryMin)
	}

	return streamState, nil
}

// Cleanup closes every stream owned by the framework. Retries stop, but
// checkpoint files are left on disk for the caller to garbage collect.
func (m *Manager) Cleanup(ctx context.Context, frameworkID string) error {
	return m.call(ctx, func() { m.cleanup(frameworkID) })
}

func (m *Manager) cleanup(frameworkID string) {
	m.logger.Info("closing status update streams for framework",
		logpkg.Str("framework", frameworkID))

	ids := m.frameworkStreams[frameworkID]
	snapshot := make([]string, 0, len(ids))
	for id := range ids {
		snapshot = append(snapshot, id)
	}
	for _, id := range snapshot {
		m.cleanupStream(id)
	}
}

// Pause stops forwarding. Accepted updates keep queueing; pending timers
// become no-ops while paused.
func (m *Manager) Pause(ctx context.Context) error {
	return m.call(ctx, func() {
		m.logger.Info("pausing sending status updates")
		m.paused = true
	})
}

// Resume restarts forwarding and re-sends the head-of-queue update of
// every stream.
func (m *Manager) Resume(ctx context.Context) error {
	return m.call(ctx, func() {
		m.logger.Info("resuming sending status updates")
		m.paused = false
		for streamID, s := range m.streams {
			if next := s.next(); next != nil {
				m.logger.Warn("sending status update", logpkg.Str("stream", streamID))
				m.forwardUpdate(streamID, s, next, m.retryMin)
			}
		}
	})
}

// Streams returns a snapshot of the live streams.
func (m *Manager) Streams(ctx context.Context) ([]StreamInfo, error) {
	var infos []StreamInfo
	if err := m.call(ctx, func() {
		infos = make([]StreamInfo, 0, len(m.streams))
		for id, s := range m.streams {
			info := StreamInfo{
				ID:           id,
				Pending:      len(s.pending),
				Terminated:   s.terminated,
				Checkpointed: s.checkpointed(),
			}
			if s.hasFramework {
				info.FrameworkID = s.frameworkID
			}
			infos = append(infos, info)
		}
	}); err != nil {
		return nil, err
	}
	return infos, nil
}

// Paused reports whether forwarding is paused.
func (m *Manager) Paused(ctx context.Context) (bool, error) {
	var paused bool
	err := m.call(ctx, func() { paused = m.paused })
	return paused, err
}

func (m *Manager) createStream(streamID string, u Update, checkpoint bool) (*stream, error) {
	m.logger.Debug("creating status update stream",
		logpkg.Str("stream", streamID), logpkg.Bool("checkpoint", checkpoint))

	path := ""
	if checkpoint {
		path = m.pathFor(streamID)
	}
	s, err := createStream(streamID, u.FrameworkID(), u.HasFrameworkID(), path, m.codec, m.logger)
	if err != nil {
		return nil, err
	}

	m.streams[streamID] = s
	if s.hasFramework {
		m.indexFramework(s.frameworkID, streamID)
	}
	return s, nil
}

func (m *Manager) indexFramework(frameworkID, streamID string) {
	set, ok := m.frameworkStreams[frameworkID]
	if !ok {
		set = make(map[string]struct{})
		m.frameworkStreams[frameworkID] = set
	}
	set[streamID] = struct{}{}
}

// cleanupStream closes the stream and removes it from the maps, pruning
// empty framework sets.
func (m *Manager) cleanupStream(streamID string) {
	m.logger.Debug("cleaning up status update stream", logpkg.Str("stream", streamID))

	s, ok := m.streams[streamID]
	if !ok {
		return
	}
	if s.hasFramework {
		if set, ok := m.frameworkStreams[s.frameworkID]; ok {
			delete(set, streamID)
			if len(set) == 0 {
				delete(m.frameworkStreams, s.frameworkID)
			}
		}
	}
	s.close()
	delete(m.streams, streamID)
}

// forwardUpdate invokes the sink for the head-of-queue update and arms a
// retry timer that fires after duration.
func (m *Manager) forwardUpdate(streamID string, s *stream, u Update, duration time.Duration) {
	m.logger.Debug("forwarding status update",
		logpkg.Str("stream", streamID), logpkg.Duration("retry", duration))

	m.forward(u)

	s.deadline = m.now().Add(duration)
	time.AfterFunc(duration, func() {
		m.post(func() { m.timeout(streamID, duration) })
	})
}

// timeout is the retry timer callback. A late firing is harmless: either
// the stream is gone, the queue is empty, or a newer timer moved the
// deadline forward.
func (m *Manager) timeout(streamID string, duration time.Duration) {
	if m.paused {
		return
	}
	s, ok := m.streams[streamID]
	if !ok {
		return
	}
	if len(s.pending) == 0 || s.deadline.IsZero() {
		return
	}
	if m.now().Before(s.deadline) {
		return
	}

	u := s.pending[0]
	m.logger.Warn("resending status update",
		logpkg.Str("stream", streamID), logpkg.Str("uuid", u.StatusUUID().String()))

	// Bounded exponential backoff.
	next := duration * 2
	if next > m.retryMax {
		next = m.retryMax
	}
	m.forwardUpdate(streamID, s, u, next)
}
