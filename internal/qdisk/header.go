package qdisk

import (
	"encoding/binary"

	"github.com/axoflow/corelogd/internal/buf"
)

// HeaderSize is the fixed on-disk header length. Cursors
// never point below this offset.
const HeaderSize = 4096

// ReservedSpace is the first byte a cursor may address; the ring body
// starts immediately after the header.
const ReservedSpace = HeaderSize

// Magic tags distinguish a reliable queue file from a non-reliable one.
var (
	MagicReliable = [4]byte{'S', 'L', 'R', 'Q'}
	MagicNonReliable = [4]byte{'S', 'L', 'Q', 'F'}
)

// FormatVersion is the header layout version this module writes.
const FormatVersion = 4

const (
	offMagic = 0
	offVersion = 4
	offBigEndian = 5
	offPad = 6
	offReadHead = 7
	offWriteHead = 15
	offLength = 23
	offQOutOfs = 31
	offQOutLen = 39
	offQOutCount = 43
	offQBacklogOfs = 47
	offQBacklogLen = 55
	offQBacklogCnt = 59
	offQOverflowOfs = 63
	offQOverflowLen = 71
	offQOverflowCnt = 75
	offBacklogHead = 79
	offBacklogLen = 87
	offUseV1Wrap = 95
	offDiskBufSize = 96
)

// nativeIsBigEndian reports this process's native integer byte order, the
// reference point header loads are corrected against.
var nativeIsBigEndian = func() bool {
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 1)
	return probe[0] == 0
}()

// Position is an (offset, length, count) triple describing an off-disk
// tail: one of the in-memory front/flow-control/overflow queues,
// serialized past the ring's accounted extent at shutdown.
type Position struct {
	Offset int64
	Length uint32
	Count uint32
}

// Header is a view over the first HeaderSize bytes of a qdisk file,
// normally backed by a memory-mapped slice (internal/mmfile) so cursor
// stores are visible to other readers without a syscall.
type Header struct {
	raw []byte
}

// NewHeader wraps raw, which must be at least HeaderSize bytes.
func NewHeader(raw []byte) *Header { return &Header{raw: raw[:HeaderSize]} }

func (h *Header) order() binary.ByteOrder {
	if h.BigEndian() {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Init zero-fills the header and stamps magic/version/native byte order
// for a freshly created queue file.
func (h *Header) Init(reliable bool) {
	for i := range h.raw {
		h.raw[i] = 0
	}
	magic := MagicNonReliable
	if reliable {
		magic = MagicReliable
	}
	copy(h.raw[offMagic:offMagic+4], magic[:])
	h.raw[offVersion] = FormatVersion
	if nativeIsBigEndian {
		h.raw[offBigEndian] = 1
	}
	h.SetReadHead(ReservedSpace)
	h.SetWriteHead(ReservedSpace)
	h.SetBacklogHead(ReservedSpace)
}

// CorrectByteOrder swaps every multi-byte field once if the stored
// big_endian flag disagrees with the host, then flips the flag.
func (h *Header) CorrectByteOrder() {
	if h.BigEndian() == nativeIsBigEndian {
		return
	}
	for _, off := range []int{offReadHead, offWriteHead, offLength, offQOutOfs, offQBacklogOfs, offQOverflowOfs, offBacklogHead, offBacklogLen, offDiskBufSize} {
		v := binary.LittleEndian.Uint64(h.raw[off : off+8])
		binary.LittleEndian.PutUint64(h.raw[off:off+8], buf.SwapU64(v))
	}
	for _, off := range []int{offQOutLen, offQOutCount, offQBacklogLen, offQBacklogCnt, offQOverflowLen, offQOverflowCnt} {
		v := binary.LittleEndian.Uint32(h.raw[off : off+4])
		binary.LittleEndian.PutUint32(h.raw[off:off+4], buf.SwapU32(v))
	}
	if nativeIsBigEndian {
		h.raw[offBigEndian] = 1
	} else {
		h.raw[offBigEndian] = 0
	}
}

func (h *Header) Magic() [4]byte {
	var m [4]byte
	copy(m[:], h.raw[offMagic:offMagic+4])
	return m
}

func (h *Header) Version() uint8 { return h.raw[offVersion] }
func (h *Header) BigEndian() bool { return h.raw[offBigEndian] != 0 }
func (h *Header) UseV1Wrap() bool { return h.raw[offUseV1Wrap] != 0 }
func (h *Header) SetUseV1Wrap(v bool) {
	if v {
		h.raw[offUseV1Wrap] = 1
	} else {
		h.raw[offUseV1Wrap] = 0
	}
}

func (h *Header) ReadHead() int64 { return int64(h.order().Uint64(h.raw[offReadHead:])) }
func (h *Header) SetReadHead(v int64) { h.order().PutUint64(h.raw[offReadHead:], uint64(v)) }

func (h *Header) WriteHead() int64 { return int64(h.order().Uint64(h.raw[offWriteHead:])) }
func (h *Header) SetWriteHead(v int64) { h.order().PutUint64(h.raw[offWriteHead:], uint64(v)) }

func (h *Header) Length() int64 { return int64(h.order().Uint64(h.raw[offLength:])) }
func (h *Header) SetLength(v int64) { h.order().PutUint64(h.raw[offLength:], uint64(v)) }

func (h *Header) BacklogHead() int64 { return int64(h.order().Uint64(h.raw[offBacklogHead:])) }
func (h *Header) SetBacklogHead(v int64) { h.order().PutUint64(h.raw[offBacklogHead:], uint64(v)) }

func (h *Header) BacklogLen() int64 { return int64(h.order().Uint64(h.raw[offBacklogLen:])) }
func (h *Header) SetBacklogLen(v int64) { h.order().PutUint64(h.raw[offBacklogLen:], uint64(v)) }

func (h *Header) DiskBufSize() int64 { return int64(h.order().Uint64(h.raw[offDiskBufSize:])) }
func (h *Header) SetDiskBufSize(v int64) { h.order().PutUint64(h.raw[offDiskBufSize:], uint64(v)) }

func (h *Header) QOutPos() Position { return h.readPos(offQOutOfs, offQOutLen, offQOutCount) }
func (h *Header) SetQOutPos(p Position) { h.writePos(offQOutOfs, offQOutLen, offQOutCount, p) }

func (h *Header) QBacklogPos() Position {
	return h.readPos(offQBacklogOfs, offQBacklogLen, offQBacklogCnt)
}
func (h *Header) SetQBacklogPos(p Position) {
	h.writePos(offQBacklogOfs, offQBacklogLen, offQBacklogCnt, p)
}

func (h *Header) QOverflowPos() Position {
	return h.readPos(offQOverflowOfs, offQOverflowLen, offQOverflowCnt)
}
func (h *Header) SetQOverflowPos(p Position) {
	h.writePos(offQOverflowOfs, offQOverflowLen, offQOverflowCnt, p)
}

func (h *Header) readPos(offOfs, offLen, offCount int) Position {
	return Position{
		Offset: int64(h.order().Uint64(h.raw[offOfs:])),
		Length: h.order().Uint32(h.raw[offLen:]),
		Count: h.order().Uint32(h.raw[offCount:]),
	}
}

func (h *Header) writePos(offOfs, offLen, offCount int, p Position) {
	h.order().PutUint64(h.raw[offOfs:], uint64(p.Offset))
	h.order().PutUint32(h.raw[offLen:], p.Length)
	h.order().PutUint32(h.raw[offCount:], p.Count)
}
