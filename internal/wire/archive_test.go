package wire

import "testing"

func TestArchiveRoundTripPrimitives(t *testing.T) {
	w := NewWriter()
	w.PutU8(0xAB)
	w.PutU16(0x1234)
	w.PutU32(0xDEADBEEF)
	w.PutU64(0x0102030405060708)
	w.PutBytes([]byte("hello"))
	w.PutCString("world")

	r := NewReader(w.Bytes())
	if v, err := r.GetU8(); err != nil || v != 0xAB {
		t.Fatalf("GetU8 = %x,%v", v, err)
	}
	if v, err := r.GetU16(); err != nil || v != 0x1234 {
		t.Fatalf("GetU16 = %x,%v", v, err)
	}
	if v, err := r.GetU32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("GetU32 = %x,%v", v, err)
	}
	if v, err := r.GetU64(); err != nil || v != 0x0102030405060708 {
		t.Fatalf("GetU64 = %x,%v", v, err)
	}
	if v, err := r.GetBytes(); err != nil || string(v) != "hello" {
		t.Fatalf("GetBytes = %q,%v", v, err)
	}
	if v, err := r.GetCString(); err != nil || v != "world" {
		t.Fatalf("GetCString = %q,%v", v, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", r.Remaining())
	}
}

func TestArchiveTruncatedReadsFail(t *testing.T) {
	r := NewReader([]byte{0x01})
	if _, err := r.GetU32(); err == nil {
		t.Fatalf("expected error reading u32 from a 1-byte archive")
	}
}

func TestGetCStringUnterminatedFails(t *testing.T) {
	r := NewReader([]byte("no-nul-here"))
	if _, err := r.GetCString(); err == nil {
		t.Fatalf("expected error on unterminated string")
	}
}
