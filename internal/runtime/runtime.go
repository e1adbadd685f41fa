package runtime

import (
	"context"
	"errors"
	"os"

	"github.com/google/uuid"

	"github.com/rzbill/relay/internal/archive"
	cfgpkg "github.com/rzbill/relay/internal/config"
	"github.com/rzbill/relay/internal/forwarder"
	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	"github.com/rzbill/relay/internal/statusupdate"
	"github.com/rzbill/relay/internal/taskstatus"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger logpkg.Logger

	// ForwardSink overrides the HTTP forwarder; used by tests and by
	// embedders with their own transport.
	ForwardSink statusupdate.ForwardSink
}

// Runtime wires the status update manager, the forwarder, and the archive
// for a single-node daemon.
type Runtime struct {
	config  cfgpkg.Config
	logger  logpkg.Logger
	manager *statusupdate.Manager
	fwd     *forwarder.Forwarder
	db      *pebblestore.DB
	arc     *archive.Archive
}

// Open initializes the runtime. The manager starts immediately; call
// RecoverAll to replay checkpointed streams.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}

	rt := &Runtime{config: cfg, logger: logger}

	sink := opts.ForwardSink
	if sink == nil {
		if cfg.ConsumerURL == "" {
			return nil, errors.New("runtime: consumer URL is required")
		}
		rt.fwd = forwarder.New(cfg.ConsumerURL, logger)
		sink = rt.fwd.Forward
	}

	if cfg.Archive {
		db, err := pebblestore.Open(pebblestore.Options{
			DataDir: cfg.ArchiveDir(),
			Fsync:   pebblestore.FsyncModeAlways,
		})
		if err != nil {
			return nil, err
		}
		rt.db = db
		rt.arc = archive.Open(db, taskstatus.Codec{}, logger)
	}

	rt.manager = statusupdate.NewManager(statusupdate.Options{
		ForwardSink: sink,
		PathFor:     cfg.StreamPath,
		Codec:       taskstatus.Codec{},
		RetryMin:    cfg.RetryMin(),
		RetryMax:    cfg.RetryMax(),
		Logger:      logger,
	})

	return rt, nil
}

// Close releases all resources.
func (r *Runtime) Close() error {
	if r.manager != nil {
		r.manager.Close()
	}
	if r.fwd != nil {
		r.fwd.Close()
	}
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Manager exposes the status update manager.
func (r *Runtime) Manager() *statusupdate.Manager { return r.manager }

// Archive exposes the checkpoint archive; nil when archiving is disabled.
func (r *Runtime) Archive() *archive.Archive { return r.arc }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.manager == nil {
		return errors.New("manager not open")
	}
	_, err := r.manager.Paused(ctx)
	return err
}

// ListStreamIDs derives checkpointed stream ids from the streams
// directory layout. The path resolver is deterministic, so every
// subdirectory name is taken as a stream id; a subdirectory without an
// updates file recovers as nil.
func (r *Runtime) ListStreamIDs() ([]string, error) {
	entries, err := os.ReadDir(r.config.StreamsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// RecoverAll replays every checkpointed stream found under the data dir.
func (r *Runtime) RecoverAll(ctx context.Context) (*statusupdate.State, error) {
	ids, err := r.ListStreamIDs()
	if err != nil {
		return nil, err
	}
	return r.manager.Recover(ctx, ids, r.config.StrictRecovery)
}

// Update submits a status update.
func (r *Runtime) Update(ctx context.Context, ts *taskstatus.TaskStatus, streamID string, checkpoint bool) error {
	return r.manager.Update(ctx, ts, streamID, checkpoint)
}

// Acknowledge processes an acknowledgement. When the ack terminates a
// checkpointed stream and archiving is on, the stream's checkpoint log is
// imported into the archive before the caller decides on file GC.
func (r *Runtime) Acknowledge(ctx context.Context, streamID string, id uuid.UUID) (bool, error) {
	alive, err := r.manager.Acknowledge(ctx, streamID, id)
	if err != nil {
		return alive, err
	}
	if !alive && r.arc != nil {
		path := r.config.StreamPath(streamID)
		if _, statErr := os.Stat(path); statErr == nil {
			if _, impErr := r.arc.ImportStream(ctx, streamID, path); impErr != nil {
				r.logger.Warn("archiving terminated stream failed",
					logpkg.Str("stream", streamID), logpkg.Err(impErr))
			}
		}
	}
	return alive, nil
}
