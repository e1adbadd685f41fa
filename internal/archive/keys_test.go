package archive

import (
	"bytes"
	"testing"
)

func TestRecordKeysOrderBySeq(t *testing.T) {
	k1 := KeyRecord("s1", 1)
	k2 := KeyRecord("s1", 2)
	if bytes.Compare(k1, k2) >= 0 {
		t.Fatalf("record keys must sort by sequence")
	}
	prefix := KeyRecordPrefix("s1")
	if !bytes.HasPrefix(k1, prefix) || !bytes.HasPrefix(k2, prefix) {
		t.Fatalf("record keys must share the stream prefix")
	}
}

func TestKeySpacesDisjoint(t *testing.T) {
	if bytes.HasPrefix(KeyMeta("s1"), KeyRecordPrefix("s1")) {
		t.Fatalf("meta keys must not collide with record keys")
	}
	if !bytes.HasPrefix(KeyMeta("s1"), KeyMetaPrefix()) {
		t.Fatalf("meta key must be under the meta prefix")
	}
}
