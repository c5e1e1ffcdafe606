package buf

import "testing"

func TestEndianHelpers(t *testing.T) {
	data := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}

	if got := U16LE(data); got != 0x2301 {
		t.Fatalf("U16LE = 0x%x, want 0x2301", got)
	}
	if got := U32LE(data); got != 0x67452301 {
		t.Fatalf("U32LE = 0x%x, want 0x67452301", got)
	}
	if got := U64LE(data); got != 0xefcdab8967452301 {
		t.Fatalf("U64LE = 0x%x, want 0xefcdab8967452301", got)
	}
	if got := U32BE(data); got != 0x01234567 {
		t.Fatalf("U32BE = 0x%x, want 0x01234567", got)
	}
	if got := I32LE(data); got != 0x67452301 {
		t.Fatalf("I32LE = 0x%x, want 0x67452301", got)
	}

	short := []byte{0xAA}
	if U16LE(short) != 0 {
		t.Fatalf("U16LE short should be 0")
	}
	if U32LE(short) != 0 || U32BE(short) != 0 || U64LE(short) != 0 || I32LE(short) != 0 {
		t.Fatalf("short reads should return 0")
	}
	if U16BE(short) != 0 || U64BE(short) != 0 {
		t.Fatalf("short BE reads should return 0")
	}
}

func TestPutRoundTrip(t *testing.T) {
	b := make([]byte, 8)

	PutU32BE(b, 0xdeadbeef)
	if got := U32BE(b); got != 0xdeadbeef {
		t.Fatalf("PutU32BE/U32BE round trip = 0x%x", got)
	}

	PutU64LE(b, 0x0102030405060708)
	if got := U64LE(b); got != 0x0102030405060708 {
		t.Fatalf("PutU64LE/U64LE round trip = 0x%x", got)
	}

	PutU16BE(b, 0xabcd)
	if got := U16BE(b); got != 0xabcd {
		t.Fatalf("PutU16BE/U16BE round trip = 0x%x", got)
	}
}

func TestSwap(t *testing.T) {
	if got := SwapU32(0x01020304); got != 0x04030201 {
		t.Fatalf("SwapU32 = 0x%x, want 0x04030201", got)
	}
	if got := SwapU64(0x0102030405060708); got != 0x0807060504030201 {
		t.Fatalf("SwapU64 = 0x%x, want 0x0807060504030201", got)
	}
	if SwapU32(SwapU32(0xcafebabe)) != 0xcafebabe {
		t.Fatalf("double swap should be identity")
	}
}
