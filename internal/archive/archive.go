// Package archive stores the checkpoint logs of finished status update
// streams in a Pebble-backed store, so their history survives checkpoint
// file garbage collection and stays queryable.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"

	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	"github.com/rzbill/relay/internal/statusupdate"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// ErrNotFound reports a stream absent from the archive.
var ErrNotFound = errors.New("stream not archived")

// StreamMeta describes one archived stream.
type StreamMeta struct {
	StreamID     string `cbor:"1,keyasint" json:"streamId"`
	Records      uint64 `cbor:"2,keyasint" json:"records"`
	Updates      uint64 `cbor:"3,keyasint" json:"updates"`
	Acks         uint64 `cbor:"4,keyasint" json:"acks"`
	Terminated   bool   `cbor:"5,keyasint" json:"terminated"`
	ImportedAtMs int64  `cbor:"6,keyasint" json:"importedAtMs"`
}

// Archive imports and serves checkpoint logs of closed streams.
type Archive struct {
	db     *pebblestore.DB
	codec  statusupdate.Codec
	logger logpkg.Logger
}

// Open wraps an open store.
func Open(db *pebblestore.DB, codec statusupdate.Codec, logger logpkg.Logger) *Archive {
	return &Archive{db: db, codec: codec, logger: logger.WithComponent("archive")}
}

// ImportStream copies the frames of a stream's checkpoint file into the
// store, one row per frame, and records stream metadata. A torn tail is
// skipped, mirroring recovery truncation. The file itself is untouched.
func (a *Archive) ImportStream(ctx context.Context, streamID, path string) (StreamMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StreamMeta{}, fmt.Errorf("reading checkpoint file %q: %w", path, err)
	}

	meta := StreamMeta{StreamID: streamID, ImportedAtMs: time.Now().UnixMilli()}

	b := a.db.NewBatch()
	defer b.Close()

	var pending []statusupdate.Update
	offset := 0
	seq := uint64(0)
	for {
		rec, n, err := statusupdate.DecodeFrame(data[offset:])
		if err == io.EOF {
			break
		}
		if err != nil {
			a.logger.Warn("skipping torn tail of checkpoint file",
				logpkg.Str("stream", streamID), logpkg.Str("path", path))
			break
		}
		seq++
		if err := b.Set(KeyRecord(streamID, seq), data[offset:offset+n], nil); err != nil {
			return StreamMeta{}, err
		}
		switch {
		case rec.IsUpdate():
			u, err := a.codec.UnmarshalUpdate(rec.Update)
			if err != nil {
				return StreamMeta{}, fmt.Errorf("decoding update record %d of %q: %w", seq, path, err)
			}
			pending = append(pending, u)
			meta.Updates++
		case rec.IsAck():
			if len(pending) == 0 {
				return StreamMeta{}, fmt.Errorf("unexpected acknowledgement record %d in %q", seq, path)
			}
			if !meta.Terminated {
				meta.Terminated = pending[0].Terminal()
			}
			pending = pending[1:]
			meta.Acks++
		}
		offset += n
	}
	meta.Records = seq

	mb, err := cbor.Marshal(&meta)
	if err != nil {
		return StreamMeta{}, err
	}
	if err := b.Set(KeyMeta(streamID), mb, nil); err != nil {
		return StreamMeta{}, err
	}
	if err := a.db.CommitBatch(ctx, b); err != nil {
		return StreamMeta{}, err
	}

	a.logger.Info("archived stream",
		logpkg.Str("stream", streamID),
		logpkg.Int64("records", int64(meta.Records)),
		logpkg.Bool("terminated", meta.Terminated))
	return meta, nil
}

// List returns metadata for every archived stream.
func (a *Archive) List(ctx context.Context) ([]StreamMeta, error) {
	prefix := KeyMetaPrefix()
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var metas []StreamMeta
	for ok := iter.First(); ok; ok = iter.Next() {
		var meta StreamMeta
		if err := cbor.Unmarshal(iter.Value(), &meta); err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// Meta returns the metadata of one archived stream.
func (a *Archive) Meta(ctx context.Context, streamID string) (StreamMeta, error) {
	mb, err := a.db.Get(KeyMeta(streamID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return StreamMeta{}, fmt.Errorf("%w: %s", ErrNotFound, streamID)
		}
		return StreamMeta{}, err
	}
	var meta StreamMeta
	if err := cbor.Unmarshal(mb, &meta); err != nil {
		return StreamMeta{}, err
	}
	return meta, nil
}

// Read returns the archived records of a stream in import order.
func (a *Archive) Read(ctx context.Context, streamID string) ([]statusupdate.Record, error) {
	if _, err := a.Meta(ctx, streamID); err != nil {
		return nil, err
	}
	prefix := KeyRecordPrefix(streamID)
	iter, err := a.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var recs []statusupdate.Record
	for ok := iter.First(); ok; ok = iter.Next() {
		rec, _, err := statusupdate.DecodeFrame(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decoding archived frame for %s: %w", streamID, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
