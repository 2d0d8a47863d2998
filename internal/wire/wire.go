package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version     byte = 1
	kindRetain  byte = 1
	headerBytes      = 4 + 1 + 1 + 8 + 8 + 2
)

var (
	ErrCorrupt = errors.New("swrcache: corrupt retained entry")
	magic4     = [...]byte{'S', 'W', 'R', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Record is one retained cache entry.
type Record struct {
	Gen       uint64
	FetchedAt time.Time // zero => unknown
	Key       string    // canonical resource key; guards against storage-key hash collisions
	Payload   []byte
}

// Encode frames a record:
//
//	magic(4) | ver(1) | kind(1) | gen(u64 be) | fetchedAt(i64 be, unix nanos) |
//	keyLen(u16 be) | key(keyLen) | vlen(u32 be) | payload(vlen)
func Encode(r Record) ([]byte, error) {
	if l := len(r.Key); l == 0 || l > 0xFFFF {
		return nil, errors.New("swrcache: invalid key length in record")
	}

	var buf bytes.Buffer
	buf.Grow(headerBytes + len(r.Key) + 4 + len(r.Payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindRetain)

	var u8 [8]byte
	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint64(u8[:], r.Gen)
	buf.Write(u8[:])

	var nanos int64
	if !r.FetchedAt.IsZero() {
		nanos = r.FetchedAt.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(nanos))
	buf.Write(u8[:])

	binary.BigEndian.PutUint16(u2[:], uint16(len(r.Key)))
	buf.Write(u2[:])
	buf.WriteString(r.Key)

	binary.BigEndian.PutUint32(u4[:], uint32(len(r.Payload)))
	buf.Write(u4[:])
	buf.Write(r.Payload)

	return buf.Bytes(), nil
}

// Decode parses a framed record. Payload aliases b (zero-copy).
func Decode(b []byte) (Record, error) {
	if len(b) < headerBytes || !hasMagic(b) || b[4] != version || b[5] != kindRetain {
		return Record{}, ErrCorrupt
	}

	off := 6

	gen := binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	nanos := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	klen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if klen <= 0 || klen > len(b)-off {
		return Record{}, ErrCorrupt
	}
	key := string(b[off : off+klen])
	off += klen

	if off+4 > len(b) {
		return Record{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off { // overflow-safe; trailing bytes rejected
		return Record{}, ErrCorrupt
	}

	r := Record{Gen: gen, Key: key, Payload: b[off : off+vlen]}
	if nanos != 0 {
		r.FetchedAt = time.Unix(0, nanos)
	}
	return r, nil
}
