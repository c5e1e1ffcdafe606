// Package wire implements the serialization archive and the versioned
// on-the-wire LogMessage format: an opaque sink/source of fixed-width
// big-endian integers and length-prefixed byte strings, plus the
// encode/decode routines for LogMessage and its NVTable payload.
package wire

import (
	"bytes"

	"github.com/axoflow/corelogd/internal/buf"
	"github.com/axoflow/corelogd/internal/corelog/errs"
)

// Writer is an append-only big-endian archive sink.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty archive writer.
func NewWriter() *Writer { return &Writer{} }

func (w *Writer) PutU8(v uint8) { w.buf.WriteByte(v) }

func (w *Writer) PutU16(v uint16) {
	var tmp [2]byte
	buf.PutU16BE(tmp[:], v)
	w.buf.Write(tmp[:])
}

func (w *Writer) PutU32(v uint32) {
	var tmp [4]byte
	buf.PutU32BE(tmp[:], v)
	w.buf.Write(tmp[:])
}

func (w *Writer) PutU64(v uint64) {
	var tmp [8]byte
	buf.PutU64BE(tmp[:], v)
	w.buf.Write(tmp[:])
}

// PutBytes writes a u32be length prefix followed by b.
func (w *Writer) PutBytes(b []byte) {
	w.PutU32(uint32(len(b)))
	w.buf.Write(b)
}

// PutCString writes s followed by a NUL terminator.
func (w *Writer) PutCString(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

// PutRaw appends b with no framing.
func (w *Writer) PutRaw(b []byte) { w.buf.Write(b) }

// Bytes returns the accumulated archive contents.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Len reports the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

// Reader is a forward-only big-endian archive source over a fixed byte
// slice.
type Reader struct {
	b []byte
	pos int
}

// NewReader wraps b for sequential decoding.
func NewReader(b []byte) *Reader { return &Reader{b: b} }

// Remaining reports how many bytes are left to read.
func (r *Reader) Remaining() int { return len(r.b) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return errs.Wrap(errs.KindCorrupt, "wire: archive truncated", nil)
	}
	return nil
}

func (r *Reader) GetU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) GetU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := buf.U16BE(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) GetU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := buf.U32BE(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) GetU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := buf.U64BE(r.b[r.pos:])
	r.pos += 8
	return v, nil
}

// GetBytes reads a u32be length prefix followed by that many bytes.
func (r *Reader) GetBytes() ([]byte, error) {
	n, err := r.GetU32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	v := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v, nil
}

// GetCString reads a NUL-terminated string. An empty string (bare NUL)
// is valid and signals list termination in the tag-list encoding.
func (r *Reader) GetCString() (string, error) {
	idx := bytes.IndexByte(r.b[r.pos:], 0)
	if idx < 0 {
		return "", errs.Wrap(errs.KindCorrupt, "wire: unterminated string", nil)
	}
	s := string(r.b[r.pos : r.pos+idx])
	r.pos += idx + 1
	return s, nil
}

// GetRaw reads exactly n raw bytes.
func (r *Reader) GetRaw(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}
