// Package nvtable implements the compact, clonable, ref-counted name/value
// store backing one LogMessage's payload.
//
// A Table is a single contiguous []byte: a small fixed header, an array of
// offsets for built-in handles, a sorted array of (handle,offset) pairs for
// dynamic handles, and entry payloads growing downward from the top of the
// buffer. The offset-table area grows upward as dynamic entries are added;
// when it meets the payload area from below, the table needs Realloc.
//
// The allocator discipline — track a monotonic cursor, round to a fixed
// alignment, never rewrite an already-issued slot in place once referenced
// — is adapted here to an area that grows from both ends instead of one.
package nvtable

import (
	"encoding/binary"
	"fmt"

	"github.com/axoflow/corelogd/internal/buf"
	"github.com/axoflow/corelogd/internal/corelog/errs"
	"github.com/axoflow/corelogd/internal/registry"
)

const (
	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 20
	// MinAlloc is the minimum allocation size for New.
	MinAlloc = 256
	// MaxValueLen is the maximum value length: 255 * 1024 bytes (§3).
	MaxValueLen = 255 * 1024
	// offsetUnit: offsets are stored in 4-byte units (§3).
	offsetUnit = 4
	// maxTableLen: a 16-bit offset in 4-byte units addresses up to 256 KiB (§3).
	maxTableLen = 1 << 18

	flagBorrowed = 1 << 7 // top bit of the refcount-and-flags byte
	refcountMask = 0x7f
)

// EntryType tags an indirect entry's referenced slice semantics (e.g. a
// regex match group is a plain byte slice of its source value).
type EntryType uint8

const (
	TypeString EntryType = iota
	TypeOther
)

const (
	entryFlagIndirect = 1 << 0
	entryFlagReferenced = 1 << 1
)

// Table is a packed name/value store.
type Table struct {
	buf []byte
	numStatic int // number of reserved built-in slots (handles 1..numStatic)
}

// header layout, all explicit little-endian whatever the host's byte order
// (internal/wire stores the blob as-is and does no byte swapping on load).
//
//	0: size uint32 total buffer length
//	4: topFree uint32 end of the offset-table area (exclusive)
//	8: bottomFree uint32 start of the payload area (inclusive)
//	12: numStatic uint16
//	14: numDynamic uint16
//	16: refcount/flags uint8 (bits 0-6 refcount, bit 7 borrowed)
//	17..19: reserved
func (t *Table) size() uint32 { return binary.LittleEndian.Uint32(t.buf[0:4]) }
func (t *Table) setSize(v uint32) { binary.LittleEndian.PutUint32(t.buf[0:4], v) }
func (t *Table) topFree() uint32 { return binary.LittleEndian.Uint32(t.buf[4:8]) }
func (t *Table) setTopFree(v uint32) { binary.LittleEndian.PutUint32(t.buf[4:8], v) }
func (t *Table) bottomFree() uint32 { return binary.LittleEndian.Uint32(t.buf[8:12]) }
func (t *Table) setBottomFree(v uint32) {
	binary.LittleEndian.PutUint32(t.buf[8:12], v)
}
func (t *Table) numStaticHdr() uint16 { return binary.LittleEndian.Uint16(t.buf[12:14]) }
func (t *Table) setNumStaticHdr(v uint16) { binary.LittleEndian.PutUint16(t.buf[12:14], v) }
func (t *Table) numDynamic() uint16 { return binary.LittleEndian.Uint16(t.buf[14:16]) }
func (t *Table) setNumDynamic(v uint16) { binary.LittleEndian.PutUint16(t.buf[14:16], v) }

// Refcount returns the current 7-bit reference count.
func (t *Table) Refcount() int { return int(t.buf[16] & refcountMask) }

func (t *Table) setRefcount(v int) {
	t.buf[16] = (t.buf[16] & flagBorrowed) | byte(v&refcountMask)
}

// Borrowed reports whether the table's storage is owned by an enclosing
// container (a LogMessage's trailing allocation) rather than heap-owned by
// the table itself.
func (t *Table) Borrowed() bool { return t.buf[16]&flagBorrowed != 0 }

func (t *Table) setBorrowed(v bool) {
	if v {
		t.buf[16] |= flagBorrowed
	} else {
		t.buf[16] &^= flagBorrowed
	}
}

func staticArrayOffset() uint32 { return HeaderSize }

func (t *Table) staticSlot(h registry.Handle) (uint32, bool) {
	idx := int(h) - 1
	if idx < 0 || idx >= t.numStatic {
		return 0, false
	}
	off := staticArrayOffset() + uint32(idx*2)
	return off, true
}

func (t *Table) dynArrayOffset() uint32 {
	return staticArrayOffset() + uint32(t.numStatic*2)
}

// New allocates a fresh table sized at least MinAlloc bytes and at most
// maxTableLen bytes.
func New(numStatic int, dynHint int, payloadHint int) *Table {
	need := HeaderSize + numStatic*2 + dynHint*4 + payloadHint
	size := MinAlloc
	for size < need && size < maxTableLen {
		size *= 2
	}
	buf := make([]byte, size)
	t := &Table{buf: buf, numStatic: numStatic}
	t.setSize(uint32(size))
	t.setNumStaticHdr(uint16(numStatic))
	t.setTopFree(t.dynArrayOffset())
	t.setBottomFree(uint32(size))
	t.setRefcount(1)
	t.setBorrowed(false)
	return t
}

// InitBorrowed initializes a table in caller-owned memory (e.g. the trailing
// allocation of a LogMessage). The table never frees this buffer itself.
func InitBorrowed(buf []byte, numStatic int) (*Table, error) {
	if len(buf) < HeaderSize+numStatic*2 {
		return nil, errs.New(errs.KindExhausted, "nvtable: borrowed buffer too small")
	}
	t := &Table{buf: buf, numStatic: numStatic}
	t.setSize(uint32(len(buf)))
	t.setNumStaticHdr(uint16(numStatic))
	t.setTopFree(t.dynArrayOffset())
	t.setBottomFree(uint32(len(buf)))
	t.setRefcount(1)
	t.setBorrowed(true)
	return t, nil
}

// Ref increments the refcount.
func (t *Table) Ref() { t.setRefcount(t.Refcount() + 1) }

// Unref decrements the refcount and reports whether the table can now be
// discarded by its caller (refcount reached zero and it is not borrowed;
// borrowed tables are owned by their container and are never reported
// freeable here).
func (t *Table) Unref() (freed bool) {
	n := t.Refcount() - 1
	t.setRefcount(n)
	return n <= 0 && !t.Borrowed()
}

// entry header: 1 byte flags, 1 byte nameLen, name bytes, NUL, then either
// direct: uint32 valueLen, value bytes, NUL
// indirect: uint16 refHandle, uint8 type, uint32 offset, uint32 length
const (
	directEntryFixedHdr = 1 + 1 + 4 // flags, nameLen, valueLen
	indirectEntryFixedHdr = 1 + 1 + 2 + 1 + 4 + 4
)

func direntLen(nameLen, valueLen int) int {
	return directEntryFixedHdr + nameLen + 1 + valueLen + 1
}

func indirentLen(nameLen int) int {
	return indirectEntryFixedHdr + nameLen + 1
}

// slot describes where a handle's offset is recorded (static array or
// dynamic sorted array) and its current raw offset-in-4-byte-units.
type slotKind int

const (
	slotStatic slotKind = iota
	slotDynamicFound
	slotDynamicInsertAt
)

func (t *Table) findDynamic(h registry.Handle) (idx int, found bool) {
	n := int(t.numDynamic())
	base := t.dynArrayOffset()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		pair := binary.LittleEndian.Uint32(t.buf[base+uint32(mid*4):])
		mh := registry.Handle(pair >> 16)
		switch {
		case mh == h:
			return mid, true
		case mh < h:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

func (t *Table) dynOffsetAt(idx int) uint32 {
	base := t.dynArrayOffset()
	pair := binary.LittleEndian.Uint32(t.buf[base+uint32(idx*4):])
	return uint32(pair&0xffff) * offsetUnit
}

func (t *Table) setDynPair(idx int, h registry.Handle, offsetUnits uint32) {
	base := t.dynArrayOffset()
	pair := uint32(h)<<16 | (offsetUnits & 0xffff)
	binary.LittleEndian.PutUint32(t.buf[base+uint32(idx*4):], pair)
}

// entryAt decodes the entry starting at byte offset off.
type decoded struct {
	indirect bool
	referenced bool
	name string
	value []byte // direct only
	refHandle registry.Handle
	refType EntryType
	refOffset uint32
	refLen uint32
	totalLen int
}

// decodeEntry decodes the entry at byte offset off, validating every field
// against the table's extent before indexing it. ok is false if off (or
// any length derived from the entry itself) would read past t.buf — the
// table's own allocator never produces such an offset, but a table loaded
// from a corrupted or adversarial wire blob (FromBytes) can.
func (t *Table) decodeEntry(off uint32) (d decoded, ok bool) {
	b := t.buf
	if !buf.Has(b, int(off), 2) {
		return decoded{}, false
	}
	flags := b[off]
	nameLen := int(b[off+1])
	nameOff := int(off) + 2
	if !buf.Has(b, nameOff, nameLen+1) { // name + NUL
		return decoded{}, false
	}
	p := nameOff + nameLen + 1
	d.indirect = flags&entryFlagIndirect != 0
	d.referenced = flags&entryFlagReferenced != 0
	d.name = string(b[nameOff : nameOff+nameLen])
	if d.indirect {
		if !buf.Has(b, p, 2+1+4+4) {
			return decoded{}, false
		}
		d.refHandle = registry.Handle(binary.LittleEndian.Uint16(b[p:]))
		p += 2
		d.refType = EntryType(b[p])
		p++
		d.refOffset = binary.LittleEndian.Uint32(b[p:])
		p += 4
		d.refLen = binary.LittleEndian.Uint32(b[p:])
		p += 4
		d.totalLen = p - int(off)
	} else {
		if !buf.Has(b, p, 4) {
			return decoded{}, false
		}
		valueLen := int(binary.LittleEndian.Uint32(b[p:]))
		p += 4
		if !buf.Has(b, p, valueLen+1) {
			return decoded{}, false
		}
		d.value = b[p : p+valueLen]
		p += valueLen + 1 // skip NUL
		d.totalLen = p - int(off)
	}
	return d, true
}

func (t *Table) setReferenced(off uint32, v bool) {
	if v {
		t.buf[off] |= entryFlagReferenced
	} else {
		t.buf[off] &^= entryFlagReferenced
	}
}

// offsetOf returns the byte offset (not units) stored for h, and whether it
// is present, plus enough context to update it later.
func (t *Table) offsetOf(h registry.Handle) (off uint32, present bool) {
	if slotOff, ok := t.staticSlot(h); ok {
		u := binary.LittleEndian.Uint16(t.buf[slotOff:])
		if u == 0 {
			return 0, false
		}
		return uint32(u) * offsetUnit, true
	}
	idx, found := t.findDynamic(h)
	if !found {
		return 0, false
	}
	return t.dynOffsetAt(idx), true
}

// AddValue stores value under handle/name, truncating to MaxValueLen.
// Returns (ok, isNewEntry). ok is false when the table has no room left
// (retrying once after Realloc is the caller's job, see logmsg) or when an
// existing entry for h cannot be decoded.
func (t *Table) AddValue(h registry.Handle, name string, value []byte) (ok bool, isNew bool) {
	if len(value) > MaxValueLen {
		value = value[:MaxValueLen]
	}
	if err := t.resolveReferencesTo(h); err != nil {
		return false, false
	}

	needed := direntLen(len(name), len(value))
	if off, present := t.offsetOf(h); present {
		d, ok := t.decodeEntry(off)
		if !ok {
			return false, false
		}
		if !d.indirect && needed <= d.totalLen {
			t.writeDirect(off, name, value)
			return true, false
		}
		// Not enough room (or was indirect): allocate a new slot and
		// leave the old bytes as fragmentation, consistent with the
		// arena-style allocator (no in-place rewrite once an entry
		// might still be referenced).
		newOff, ok := t.allocPayload(needed)
		if !ok {
			return false, false
		}
		t.writeDirect(newOff, name, value)
		t.updateOffset(h, newOff)
		return true, false
	}

	newOff, ok := t.allocPayload(needed)
	if !ok {
		return false, false
	}
	t.writeDirect(newOff, name, value)
	if !t.insertOffset(h, newOff) {
		return false, false
	}
	return true, true
}

// AddValueIndirect stores a reference to a slice of another value. If
// refHandle itself already holds an indirect entry, this degrades to a
// direct copy of the resolved slice.
func (t *Table) AddValueIndirect(h registry.Handle, name string, refHandle registry.Handle, typ EntryType, offset, length uint32) (ok bool, isNew bool) {
	refOff, present := t.offsetOf(refHandle)
	if !present {
		return false, false
	}
	refDecoded, ok := t.decodeEntry(refOff)
	if !ok {
		return false, false
	}
	if refDecoded.indirect {
		// Degrade to a direct copy of the resolved slice.
		resolved, ok := t.GetValue(refHandle)
		if !ok {
			return false, false
		}
		end := offset + length
		if end > uint32(len(resolved)) {
			end = uint32(len(resolved))
		}
		if offset > end {
			offset = end
		}
		return t.AddValue(h, name, resolved[offset:end])
	}

	t.setReferenced(refOff, true)

	needed := indirentLen(len(name))
	if off, present := t.offsetOf(h); present {
		d, dok := t.decodeEntry(off)
		if !dok {
			return false, false
		}
		if d.indirect && needed <= d.totalLen {
			t.writeIndirect(off, name, refHandle, typ, offset, length)
			return true, false
		}
		newOff, ok := t.allocPayload(needed)
		if !ok {
			return false, false
		}
		t.writeIndirect(newOff, name, refHandle, typ, offset, length)
		t.updateOffset(h, newOff)
		return true, false
	}
	newOff, ok := t.allocPayload(needed)
	if !ok {
		return false, false
	}
	t.writeIndirect(newOff, name, refHandle, typ, offset, length)
	if !t.insertOffset(h, newOff) {
		return false, false
	}
	return true, true
}

// GetValue resolves h to its bytes, following one level of indirection and
// clipping length to the referenced value (§4.2).
func (t *Table) GetValue(h registry.Handle) ([]byte, bool) {
	off, present := t.offsetOf(h)
	if !present {
		return nil, false
	}
	d, ok := t.decodeEntry(off)
	if !ok {
		return nil, false
	}
	if !d.indirect {
		return d.value, true
	}
	refOff, present := t.offsetOf(d.refHandle)
	if !present {
		return nil, false
	}
	refD, ok := t.decodeEntry(refOff)
	if !ok || refD.indirect {
		return nil, false
	}
	start := d.refOffset
	end := start + d.refLen
	if end > uint32(len(refD.value)) {
		end = uint32(len(refD.value))
	}
	if start > end {
		start = end
	}
	return refD.value[start:end], true
}

// resolveReferencesTo converts every indirect entry pointing at h into a
// direct copy, so h's direct entry can safely be rewritten or reclaimed.
func (t *Table) resolveReferencesTo(h registry.Handle) error {
	type pending struct {
		handle registry.Handle
		name string
		value []byte
	}
	var toFix []pending
	for _, eh := range t.handles() {
		off, _ := t.offsetOf(eh)
		d, ok := t.decodeEntry(off)
		if !ok {
			return errs.Wrap(errs.KindCorrupt, "nvtable: corrupt entry", nil)
		}
		if d.indirect && d.refHandle == h {
			resolved, ok := t.GetValue(eh)
			if !ok {
				return errs.ErrExhausted
			}
			cp := make([]byte, len(resolved))
			copy(cp, resolved)
			toFix = append(toFix, pending{eh, d.name, cp})
		}
	}
	for _, p := range toFix {
		if ok, _ := t.AddValue(p.handle, p.name, p.value); !ok {
			return errs.ErrExhausted
		}
	}
	if off, present := t.offsetOf(h); present {
		t.setReferenced(off, false)
	}
	return nil
}

func (t *Table) handles() []registry.Handle {
	var out []registry.Handle
	for i := 0; i < t.numStatic; i++ {
		h := registry.Handle(i + 1)
		if _, present := t.offsetOf(h); present {
			out = append(out, h)
		}
	}
	n := int(t.numDynamic())
	base := t.dynArrayOffset()
	for i := 0; i < n; i++ {
		pair := binary.LittleEndian.Uint32(t.buf[base+uint32(i*4):])
		out = append(out, registry.Handle(pair>>16))
	}
	return out
}

func (t *Table) writeDirect(off uint32, name string, value []byte) {
	b := t.buf[off:]
	b[0] = 0
	b[1] = byte(len(name))
	p := 2
	copy(b[p:], name)
	p += len(name)
	b[p] = 0
	p++
	binary.LittleEndian.PutUint32(b[p:], uint32(len(value)))
	p += 4
	copy(b[p:], value)
	p += len(value)
	b[p] = 0
}

func (t *Table) writeIndirect(off uint32, name string, refHandle registry.Handle, typ EntryType, offset, length uint32) {
	b := t.buf[off:]
	b[0] = entryFlagIndirect
	b[1] = byte(len(name))
	p := 2
	copy(b[p:], name)
	p += len(name)
	b[p] = 0
	p++
	binary.LittleEndian.PutUint16(b[p:], uint16(refHandle))
	p += 2
	b[p] = byte(typ)
	p++
	binary.LittleEndian.PutUint32(b[p:], offset)
	p += 4
	binary.LittleEndian.PutUint32(b[p:], length)
}

// allocPayload carves needed bytes off the bottom of the payload area,
// returning the new entry's start offset.
func (t *Table) allocPayload(needed int) (uint32, bool) {
	bottom := t.bottomFree()
	if uint32(needed) > bottom {
		return 0, false
	}
	// Entry offsets are stored in offsetUnit units, so every entry must
	// start on an offsetUnit boundary.
	newBottom := (bottom - uint32(needed)) &^ (offsetUnit - 1)
	if newBottom < t.topFree() {
		return 0, false
	}
	t.setBottomFree(newBottom)
	return newBottom, true
}

// updateOffset rewrites the stored offset for an already-present handle.
func (t *Table) updateOffset(h registry.Handle, newOff uint32) {
	if slotOff, ok := t.staticSlot(h); ok {
		binary.LittleEndian.PutUint16(t.buf[slotOff:], uint16(newOff/offsetUnit))
		return
	}
	idx, found := t.findDynamic(h)
	if found {
		t.setDynPair(idx, h, newOff/offsetUnit)
	}
}

// insertOffset records a new handle's offset, inserting into the sorted
// dynamic array if h is not a static handle. Returns false if there is no
// room left in the offset-table area.
func (t *Table) insertOffset(h registry.Handle, off uint32) bool {
	if slotOff, ok := t.staticSlot(h); ok {
		binary.LittleEndian.PutUint16(t.buf[slotOff:], uint16(off/offsetUnit))
		return true
	}
	if t.topFree()+4 > t.bottomFree() {
		return false
	}
	idx, _ := t.findDynamic(h)
	base := t.dynArrayOffset()
	n := int(t.numDynamic())
	// shift [idx, n) up by one slot to make room, then insert at idx.
	copy(t.buf[base+uint32((idx+1)*4):base+uint32((n+1)*4)], t.buf[base+uint32(idx*4):base+uint32(n*4)])
	t.setDynPair(idx, h, off/offsetUnit)
	t.setNumDynamic(uint16(n + 1))
	t.setTopFree(t.topFree() + 4)
	return true
}

// Foreach visits every entry, built-ins first in handle order, then
// dynamic in handle order, following indirection so value is always the
// resolved bytes.
func (t *Table) Foreach(visit func(h registry.Handle, name string, value []byte, indirect bool)) {
	for i := 0; i < t.numStatic; i++ {
		h := registry.Handle(i + 1)
		off, present := t.offsetOf(h)
		if !present {
			continue
		}
		d, ok := t.decodeEntry(off)
		if !ok {
			continue
		}
		value, _ := t.GetValue(h)
		visit(h, d.name, value, d.indirect)
	}
	n := int(t.numDynamic())
	base := t.dynArrayOffset()
	for i := 0; i < n; i++ {
		pair := binary.LittleEndian.Uint32(t.buf[base+uint32(i*4):])
		h := registry.Handle(pair >> 16)
		off := uint32(pair&0xffff) * offsetUnit
		d, ok := t.decodeEntry(off)
		if !ok {
			continue
		}
		value, _ := t.GetValue(h)
		visit(h, d.name, value, d.indirect)
	}
}

// Clone allocates a new non-borrowed table and byte-copies this one,
// optionally growing by additionalSpace bytes.
func (t *Table) Clone(additionalSpace int) *Table {
	size := int(t.size()) + additionalSpace
	buf := make([]byte, size)
	copy(buf, t.buf)
	nt := &Table{buf: buf, numStatic: t.numStatic}
	nt.setSize(uint32(size))
	nt.setBorrowed(false)
	nt.setRefcount(1)
	if additionalSpace > 0 {
		// Shift the payload area down to the new top of the larger buffer
		// and widen the free gap in the middle, rather than leaving the
		// extra space stranded between bottomFree and the old size.
		oldBottom := t.bottomFree()
		oldSize := t.size()
		payloadLen := oldSize - oldBottom
		newBottom := uint32(size) - payloadLen
		copy(nt.buf[newBottom:], t.buf[oldBottom:oldSize])
		nt.setBottomFree(newBottom)
		nt.relocateDynamicOffsets(oldBottom, newBottom)
	}
	return nt
}

func (nt *Table) relocateDynamicOffsets(oldBottom, newBottom uint32) {
	delta := newBottom - oldBottom
	for i := 0; i < nt.numStatic; i++ {
		slotOff, _ := nt.staticSlot(registry.Handle(i + 1))
		u := binary.LittleEndian.Uint16(nt.buf[slotOff:])
		if u != 0 {
			binary.LittleEndian.PutUint16(nt.buf[slotOff:], uint16((uint32(u)*offsetUnit+delta)/offsetUnit))
		}
	}
	n := int(nt.numDynamic())
	base := nt.dynArrayOffset()
	for i := 0; i < n; i++ {
		pair := binary.LittleEndian.Uint32(nt.buf[base+uint32(i*4):])
		h := registry.Handle(pair >> 16)
		off := uint32(pair&0xffff)*offsetUnit + delta
		nt.setDynPair(i, h, off/offsetUnit)
	}
}

// Realloc doubles the table's size. If refcount==1 and the table is not
// borrowed, the caller's *Table is grown in place (same Go pointer, larger
// backing slice); otherwise a fresh table is allocated, the header and
// offset tables are copied, the payload is relocated, and the caller must
// replace its reference with the returned table and drop the old one.
// Pointers previously returned by GetValue into the old table's payload
// remain valid (Go never reuses that backing array) until the old table is
// itself garbage collected.
func (t *Table) Realloc() *Table {
	if t.Refcount() == 1 && !t.Borrowed() {
		old := t.buf
		newSize := int(t.size()) * 2
		buf := make([]byte, newSize)
		oldBottom := t.bottomFree()
		oldSize := t.size()
		payloadLen := oldSize - oldBottom
		copy(buf, old[:oldBottom])
		newBottom := uint32(newSize) - payloadLen
		copy(buf[newBottom:], old[oldBottom:oldSize])
		t.buf = buf
		t.setSize(uint32(newSize))
		t.setBottomFree(newBottom)
		t.relocateDynamicOffsets(oldBottom, newBottom)
		return t
	}
	nt := t.Clone(int(t.size()))
	t.Unref()
	return nt
}

// NeedsRealloc reports whether the offset-table area and payload area have
// met (no room for one more minimal entry).
func (t *Table) NeedsRealloc() bool {
	return t.topFree()+4 > t.bottomFree()
}

// Size returns the total backing buffer length.
func (t *Table) Size() int { return int(t.size()) }

// Bytes exposes the raw backing buffer, for serialization (internal/wire)
// and for a LogMessage's borrowed-table construction.
func (t *Table) Bytes() []byte { return t.buf }

// FromBytes wraps an existing, already-initialized buffer (e.g. freshly
// deserialized) without reallocating.
func FromBytes(buf []byte, numStatic int) (*Table, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("nvtable: buffer too small (%d bytes)", len(buf))
	}
	t := &Table{buf: buf, numStatic: numStatic}
	return t, nil
}
