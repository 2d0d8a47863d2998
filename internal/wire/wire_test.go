package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"
	"time"
)

func mustDecode(t *testing.T, b []byte) Record {
	t.Helper()
	r, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	return r
}

func mustEncode(t *testing.T, r Record) []byte {
	t.Helper()
	b, err := Encode(r)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	return b
}

func TestRecordRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 0, 42, time.UTC)
	cases := []Record{
		{Gen: 0, Key: "me"},
		{Gen: 42, FetchedAt: at, Key: "task-list?page=1", Payload: []byte("hello")},
		{Gen: math.MaxUint64, Key: "k", Payload: []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		got := mustDecode(t, mustEncode(t, tc))
		if got.Gen != tc.Gen || got.Key != tc.Key {
			t.Fatalf("header mismatch: got %+v want %+v", got, tc)
		}
		if !got.FetchedAt.Equal(tc.FetchedAt) {
			t.Fatalf("fetchedAt mismatch: got %v want %v", got.FetchedAt, tc.FetchedAt)
		}
		if !bytes.Equal(got.Payload, tc.Payload) {
			t.Fatalf("payload mismatch: got %x want %x", got.Payload, tc.Payload)
		}
	}
}

func TestRecordRejectsTrailingBytes(t *testing.T) {
	enc := mustEncode(t, Record{Gen: 7, Key: "k", Payload: []byte("x")})
	enc = append(enc, 0xDE, 0xAD)
	if _, err := Decode(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestRecordCorruptHeadersAndLengths(t *testing.T) {
	enc := mustEncode(t, Record{Gen: 1, Key: "k", Payload: []byte("abc")})

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, err := Decode(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, err := Decode(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindRetain + 1
	if _, err := Decode(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// klen sits right after the fixed header fields (4+1+1+8+8 = 22)
	badKlen := append([]byte(nil), enc...)
	binary.BigEndian.PutUint16(badKlen[22:24], uint16(500))
	if _, err := Decode(badKlen); err == nil {
		t.Fatalf("expected error on klen beyond buffer")
	}

	// vlen follows the 1-byte key
	off := headerBytes + 1
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[off:off+4], uint32(len("abc")+1))
	if _, err := Decode(tooLong); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	if _, err := Decode(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}
}

func TestEncodeKeyLengthValidation(t *testing.T) {
	if _, err := Encode(Record{Key: ""}); err == nil {
		t.Fatalf("expected error on empty key")
	}
	if _, err := Encode(Record{Key: strings.Repeat("a", 0x10000)}); err == nil {
		t.Fatalf("expected error on key length > 0xFFFF")
	}
	if _, err := Encode(Record{Key: strings.Repeat("b", 0xFFFF)}); err != nil {
		t.Fatalf("boundary key length should succeed: %v", err)
	}
}

func TestDecodeZeroCopyPayload(t *testing.T) {
	enc := mustEncode(t, Record{Gen: 1, Key: "k", Payload: []byte("Z")})
	r := mustDecode(t, enc)
	r.Payload[0] = 'Q'
	if mustDecode(t, enc).Payload[0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}
