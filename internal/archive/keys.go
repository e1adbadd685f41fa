package archive

import "encoding/binary"

// Key layout:
//
//	a|rec|<stream>|<seq BE8>  -> raw checkpoint frame
//	a|meta|<stream>           -> CBOR StreamMeta
//
// The big-endian sequence keeps records in import order under a prefix
// scan.

func KeyRecord(streamID string, seq uint64) []byte {
	k := make([]byte, 0, 6+len(streamID)+1+8)
	k = append(k, "a|rec|"...)
	k = append(k, streamID...)
	k = append(k, '|')
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(k, b[:]...)
}

func KeyRecordPrefix(streamID string) []byte {
	k := make([]byte, 0, 6+len(streamID)+1)
	k = append(k, "a|rec|"...)
	k = append(k, streamID...)
	return append(k, '|')
}

func KeyMeta(streamID string) []byte {
	k := make([]byte, 0, 7+len(streamID))
	k = append(k, "a|meta|"...)
	return append(k, streamID...)
}

func KeyMetaPrefix() []byte { return []byte("a|meta|") }

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // every byte is 0xFF: no upper bound
}
