// Package buf contains helpers for endian-safe encoding/decoding routines,
// shared by the wire archive (big-endian) and the on-disk qdisk header
// (native byte order, corrected on load when it disagrees with the host).
package buf

import "encoding/binary"

// U16LE reads a little-endian uint16 from b. Returns 0 when b is too short.
func U16LE(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// U32LE reads a little-endian uint32 from b. Returns 0 when b is too short.
func U32LE(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// U64LE reads a little-endian uint64 from b. Returns 0 when b is too short.
func U64LE(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// U32BE reads a big-endian uint32 from b. Returns 0 when b is too short.
func U32BE(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// U16BE reads a big-endian uint16 from b. Returns 0 when b is too short.
func U16BE(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// U64BE reads a big-endian uint64 from b. Returns 0 when b is too short.
func U64BE(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// I32LE reads a little-endian int32 from b. Returns 0 when b is too short.
func I32LE(b []byte) int32 {
	if len(b) < 4 {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

// PutU16LE writes a little-endian uint16 to b. Panics if b is too short.
func PutU16LE(b []byte, v uint16) { binary.LittleEndian.PutUint16(b, v) }

// PutU32LE writes a little-endian uint32 to b. Panics if b is too short.
func PutU32LE(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

// PutU64LE writes a little-endian uint64 to b. Panics if b is too short.
func PutU64LE(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }

// PutU16BE writes a big-endian uint16 to b. Panics if b is too short.
func PutU16BE(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }

// PutU32BE writes a big-endian uint32 to b. Panics if b is too short.
func PutU32BE(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// PutU64BE writes a big-endian uint64 to b. Panics if b is too short.
func PutU64BE(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

// SwapU32 reverses the byte order of v.
func SwapU32(v uint32) uint32 {
	return (v&0x000000ff)<<24 | (v&0x0000ff00)<<8 | (v&0x00ff0000)>>8 | (v&0xff000000)>>24
}

// SwapU64 reverses the byte order of v.
func SwapU64(v uint64) uint64 {
	return uint64(SwapU32(uint32(v)))<<32 | uint64(SwapU32(uint32(v>>32)))
}
