package statusupdate

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	logpkg "github.com/rzbill/relay/pkg/log"
)

// StreamState is the state replayed from a stream's checkpoint file.
// Updates holds every UPDATE record in the file, acknowledged or not.
type StreamState struct {
	Updates    []Update
	Terminated bool

	// Error reports that the file had a torn or corrupt tail which was
	// truncated away during non-strict recovery.
	Error bool
}

// stream tracks received, acknowledged, and pending updates for a single
// producer endpoint, checkpointing them when a file path was assigned.
// All access happens on the Manager's actor goroutine.
type stream struct {
	id string

	frameworkID  string
	hasFramework bool

	path string   // empty when not checkpointed
	file *os.File // open iff checkpointed

	codec  Codec
	logger logpkg.Logger

	received     map[uuid.UUID]struct{}
	acknowledged map[uuid.UUID]struct{}
	pending      []Update

	terminated bool

	// deadline of the armed retry timer; Manager-owned.
	deadline time.Time

	// err is sticky: once a checkpoint write fails, every further
	// mutation on the stream reports the same error.
	err error
}

func newStream(id string, codec Codec, logger logpkg.Logger) *stream {
	return &stream{
		id:           id,
		codec:        codec,
		logger:       logger.With(logpkg.Str("stream", id)),
		received:     make(map[uuid.UUID]struct{}),
		acknowledged: make(map[uuid.UUID]struct{}),
	}
}

// createStream opens a new stream. A non-empty path makes the stream
// checkpointed: the file must not already exist, intermediate directories
// are created, and the file is opened for durable writes.
func createStream(id, frameworkID string, hasFramework bool, path string, codec Codec, logger logpkg.Logger) (*stream, error) {
	s := newStream(id, codec, logger)
	s.frameworkID = frameworkID
	s.hasFramework = hasFramework

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return nil, fmt.Errorf("status updates file %q already exists", path)
		}
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %q: %w", dir, err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening %q for status updates: %w", path, err)
		}
		s.path = path
		s.file = f
	}
	return s, nil
}

// recoverStream rebuilds a stream from its checkpoint file. It returns
// (nil, nil, nil) when there is nothing to recover: the file's directory
// exists but the file was never created, or the file holds no complete
// update (the initial checkpoint was interrupted) in which case the file
// is removed. A missing directory is reported as an open error.
//
// The file is truncated to the offset after the last good frame. With
// strict recovery a torn tail is an error; otherwise it is reported via
// StreamState.Error and replay keeps what preceded it.
func recoverStream(id, path string, strict bool, codec Codec, logger logpkg.Logger) (*stream, *StreamState, error) {
	if _, err := os.Stat(filepath.Dir(path)); err == nil {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			// The process died before it checkpointed any updates.
			return nil, nil, nil
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("opening status updates file %q: %w", path, err)
	}

	s := newStream(id, codec, logger)
	s.path = path
	s.file = f

	data, err := io.ReadAll(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("reading status updates file %q: %w", path, err)
	}

	s.logger.Debug("replaying status update stream")

	state := &StreamState{}
	offset := 0
	var torn error
	for {
		rec, n, err := DecodeFrame(data[offset:])
		if err == io.EOF {
			break
		}
		if err != nil {
			torn = fmt.Errorf("reading status updates file %q: %w", path, err)
			break
		}
		switch rec.Type {
		case recordUpdate:
			u, err := codec.UnmarshalUpdate(rec.Update)
			if err != nil {
				torn = fmt.Errorf("decoding update record in %q: %w", path, err)
			} else {
				s.apply(u, recordUpdate)
				state.Updates = append(state.Updates, u)
			}
		case recordAck:
			if len(s.pending) == 0 {
				_ = f.Close()
				return nil, nil, fmt.Errorf(
					"unexpected status update acknowledgement (UUID: %s) for stream %s",
					uuidFromBytes(rec.UUID), id)
			}
			s.apply(s.pending[0], recordAck)
		}
		if torn != nil {
			break
		}
		offset += n
	}

	// Truncate to the last good frame. The tail was either a torn write
	// or unreachable, so this is crash-idempotent.
	if err := f.Truncate(int64(offset)); err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("truncating status updates file %q: %w", path, err)
	}
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("seeking status updates file %q: %w", path, err)
	}

	if torn != nil {
		if strict {
			_ = f.Close()
			return nil, nil, torn
		}
		s.logger.Warn("truncated torn tail of status updates file", logpkg.Err(torn))
		state.Error = true
	}

	state.Terminated = s.terminated

	if len(s.received) == 0 {
		// A stream is only created once there is something to write, so
		// an empty file means the first checkpoint was interrupted.
		s.close()
		if err := os.Remove(path); err != nil {
			return nil, nil, fmt.Errorf("removing status updates file %q: %w", path, err)
		}
		return nil, nil, nil
	}

	return s, state, nil
}

func uuidFromBytes(b []byte) uuid.UUID {
	var id uuid.UUID
	copy(id[:], b)
	return id
}

// update handles a new status update, checkpointing it if necessary.
// It returns false when the update is a duplicate or already acknowledged.
func (s *stream) update(u Update) (bool, error) {
	if s.err != nil {
		return false, s.err
	}

	id := u.StatusUUID()
	if id == uuid.Nil {
		return false, ErrMissingUUID
	}

	if _, ok := s.acknowledged[id]; ok {
		s.logger.Warn("ignoring status update that has already been acknowledged",
			logpkg.Str("uuid", id.String()))
		return false, nil
	}
	if _, ok := s.received[id]; ok {
		s.logger.Warn("ignoring duplicate status update", logpkg.Str("uuid", id.String()))
		return false, nil
	}

	if err := s.handle(u, recordUpdate); err != nil {
		return false, err
	}
	return true, nil
}

// acknowledgement handles an ACK, checkpointing it if necessary. It
// returns false when the ACK is a duplicate or does not match the head of
// the pending queue (the consumer acknowledged a retransmission out of
// order).
func (s *stream) acknowledgement(id uuid.UUID) (bool, error) {
	if s.err != nil {
		return false, s.err
	}

	if _, ok := s.acknowledged[id]; ok {
		s.logger.Warn("duplicate status update acknowledgement",
			logpkg.Str("uuid", id.String()))
		return false, nil
	}

	if len(s.pending) == 0 {
		return false, fmt.Errorf(
			"unexpected status update acknowledgement (UUID: %s) for stream %s", id, s.id)
	}
	head := s.pending[0]

	if headID := head.StatusUUID(); id != headID {
		s.logger.Warn("unexpected status update acknowledgement",
			logpkg.Str("received", id.String()), logpkg.Str("expecting", headID.String()))
		return false, nil
	}

	if err := s.handle(head, recordAck); err != nil {
		return false, err
	}
	return true, nil
}

// handle checkpoints the record if the stream is checkpointed, then
// applies it. A write failure sets the sticky error.
func (s *stream) handle(u Update, typ recordType) error {
	if s.checkpointed() {
		s.logger.Debug("checkpointing status update record", logpkg.Str("type", typ.String()))

		rec := Record{Type: typ}
		switch typ {
		case recordUpdate:
			b, err := s.codec.MarshalUpdate(u)
			if err != nil {
				return fmt.Errorf("marshalling status update: %w", err)
			}
			rec.Update = b
		case recordAck:
			id := u.StatusUUID()
			rec.UUID = id[:]
		}

		frame, err := EncodeFrame(&rec)
		if err != nil {
			return err
		}
		if _, err := s.file.Write(frame); err != nil {
			s.err = fmt.Errorf(
				"writing %s record for stream %s to %q: %w", typ, s.id, s.path, err)
			return s.err
		}
	}

	s.apply(u, typ)
	return nil
}

// apply mutates the in-memory state without any I/O. It is shared by the
// live path and recovery replay.
func (s *stream) apply(u Update, typ recordType) {
	id := u.StatusUUID()
	switch typ {
	case recordUpdate:
		if u.HasFrameworkID() && !s.hasFramework {
			s.frameworkID = u.FrameworkID()
			s.hasFramework = true
		}
		s.received[id] = struct{}{}
		s.pending = append(s.pending, u)
	case recordAck:
		s.acknowledged[id] = struct{}{}
		s.pending = s.pending[1:]
		if !s.terminated {
			s.terminated = u.Terminal()
		}
	}
}

// next returns the update at the head of the pending queue, or nil.
func (s *stream) next() Update {
	if len(s.pending) == 0 {
		return nil
	}
	return s.pending[0]
}

// checkpointed reports whether the stream has an on-disk log.
func (s *stream) checkpointed() bool { return s.path != "" }

// close releases the checkpoint file handle. Close errors are logged and
// swallowed; the file itself is never deleted here.
func (s *stream) close() {
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			s.logger.Warn("failed to close status updates file",
				logpkg.Str("path", s.path), logpkg.Err(err))
		}
		s.file = nil
	}
}
