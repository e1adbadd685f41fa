package statusupdate

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Checkpoint frame encoding: varint bodyLen | CBOR body | crc32c(body)
//
// The body is a tagged record: an UPDATE carries the codec-marshalled
// payload, an ACK carries the 16-byte status UUID. Frames are
// self-delimiting so a reader can report the offset after each good frame
// and a torn tail can be truncated away on recovery.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

type recordType uint8

const (
	recordUpdate recordType = 1
	recordAck    recordType = 2
)

func (t recordType) String() string {
	switch t {
	case recordUpdate:
		return "UPDATE"
	case recordAck:
		return "ACK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Record is one checkpoint log entry. Exactly one of Update and UUID is
// populated, selected by Type.
type Record struct {
	Type   recordType `cbor:"1,keyasint"`
	Update []byte     `cbor:"2,keyasint,omitempty"`
	UUID   []byte     `cbor:"3,keyasint,omitempty"`
}

// IsUpdate reports whether the record is an UPDATE.
func (r *Record) IsUpdate() bool { return r.Type == recordUpdate }

// IsAck reports whether the record is an ACK.
func (r *Record) IsAck() bool { return r.Type == recordAck }

// TypeString returns "UPDATE" or "ACK".
func (r *Record) TypeString() string { return r.Type.String() }

// maxFrameBody bounds a single frame body. A torn varint can decode to an
// arbitrary length; the cap keeps it from being mistaken for a huge frame.
const maxFrameBody = 16 << 20

// errTornFrame marks a partial or corrupt frame at the tail of a
// checkpoint file. Replay stops at the last good offset.
var errTornFrame = fmt.Errorf("torn checkpoint frame")

// EncodeFrame encodes rec as a self-delimited frame.
func EncodeFrame(rec *Record) ([]byte, error) {
	body, err := cbor.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding %s record: %w", rec.Type, err)
	}
	out := make([]byte, 0, 10+len(body)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(body)))
	out = append(out, tmp[:n]...)
	out = append(out, body...)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc32.Checksum(body, castagnoli))
	out = append(out, crcb[:]...)
	return out, nil
}

// DecodeFrame decodes one frame from the front of b, returning the number
// of bytes consumed. io.EOF signals a clean end of input; errTornFrame
// signals a partial or corrupt frame.
func DecodeFrame(b []byte) (Record, int, error) {
	if len(b) == 0 {
		return Record{}, 0, io.EOF
	}
	blen, n := binary.Uvarint(b)
	if n <= 0 {
		return Record{}, 0, errTornFrame
	}
	if blen > maxFrameBody || n+int(blen)+4 > len(b) {
		return Record{}, 0, errTornFrame
	}
	body := b[n : n+int(blen)]
	expect := binary.BigEndian.Uint32(b[n+int(blen) : n+int(blen)+4])
	if crc32.Checksum(body, castagnoli) != expect {
		return Record{}, 0, errTornFrame
	}
	var rec Record
	if err := cbor.Unmarshal(body, &rec); err != nil {
		return Record{}, 0, errTornFrame
	}
	if rec.Type != recordUpdate && rec.Type != recordAck {
		return Record{}, 0, errTornFrame
	}
	return rec, n + int(blen) + 4, nil
}
