// Package qdisk implements the low-level append-structured ring file
// backing one disk queue: a fixed 4 KiB memory-mapped header plus a ring
// body addressed by write/read/backlog cursors that wrap at a configured
// maximum size.
//
// The header is mapped read-write via internal/mmfile so cursor stores
// are visible to any other reader of the file without a syscall per
// update, avoiding read()/pread() traffic for repeatedly-accessed bytes.
package qdisk

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/axoflow/corelogd/internal/buf"
	"github.com/axoflow/corelogd/internal/corelog/errs"
	"github.com/axoflow/corelogd/internal/corelog/log"
	"github.com/axoflow/corelogd/internal/mmfile"
)

// MaxRecordLen bounds a single record's payload; anything larger is
// treated as corruption on read.
const MaxRecordLen = 100 * 1024 * 1024

// lengthPrefixSize is the 4-byte big-endian length prefix on every record.
const lengthPrefixSize = 4

// Options configures a queue file's creation and maintenance behavior.
type Options struct {
	Reliable bool
	MaxSize int64 // disk_buf_size
	Preallocate bool
	TruncateSizeRatio float64 // default 1.0; ignored when Preallocate is set
	UseV1WrapCompat bool
}

// QDisk is one open queue file: the mapped header plus the file
// descriptor used for pread/pwrite against the ring body.
type QDisk struct {
	mu sync.Mutex
	path string
	f *os.File
	mapped []byte
	unmap func() error
	header *Header
	opts Options
	fileSize int64
}

// Open creates or attaches to the queue file at path. A file shorter than
// HeaderSize is treated as new: the header is initialized and, if
// Preallocate is set, the body is grown to MaxSize up front via
// posix_fallocate.
func Open(path string, opts Options) (*QDisk, error) {
	if opts.TruncateSizeRatio == 0 {
		opts.TruncateSizeRatio = 1.0
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "qdisk: open", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.KindIO, "qdisk: stat", err)
	}

	fresh := st.Size() < HeaderSize
	if fresh {
		if err := f.Truncate(HeaderSize); err != nil {
			f.Close()
			return nil, errs.Wrap(errs.KindIO, "qdisk: grow to header size", err)
		}
	}

	mapped, unmap, err := mmfile.Map(f, HeaderSize, true)
	if err != nil {
		f.Close()
		return nil, err
	}
	header := NewHeader(mapped)

	qd := &QDisk{path: path, f: f, mapped: mapped, unmap: unmap, header: header, opts: opts}

	if fresh {
		header.Init(opts.Reliable)
		header.SetDiskBufSize(opts.MaxSize)
		header.SetUseV1Wrap(opts.UseV1WrapCompat)
		qd.fileSize = HeaderSize
		if opts.Preallocate && opts.MaxSize > HeaderSize {
			if err := unix.Fallocate(int(f.Fd()), 0, 0, opts.MaxSize); err == nil {
				qd.fileSize = opts.MaxSize
			}
		}
	} else {
		header.CorrectByteOrder()
		if header.DiskBufSize() == 0 {
			header.SetDiskBufSize(st.Size())
		}
		qd.fileSize = st.Size()
	}
	return qd, nil
}

// Close unmaps the header and closes the file.
func (q *QDisk) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var err error
	if q.unmap != nil {
		err = q.unmap()
	}
	if cerr := q.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Header exposes the mapped header for diagnostics (STATS) and tests.
func (q *QDisk) Header() *Header { return q.header }

func (q *QDisk) maxSize() int64 {
	if q.header.DiskBufSize() > 0 {
		return q.header.DiskBufSize()
	}
	return q.opts.MaxSize
}

// BytesUsed reports the span of the ring, in bytes, currently occupied by
// retained records: from BacklogHead (the oldest record not yet acked, or
// equal to ReadHead in non-reliable mode where nothing is retained past a
// pop) forward to WriteHead, wrapping through the ring's extent when the
// write cursor has lapped back around past ReservedSpace.
func (q *QDisk) BytesUsed() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	bh, wh := q.header.BacklogHead(), q.header.WriteHead()
	if wh >= bh {
		return wh - bh
	}
	return (q.maxSize() - bh) + (wh - ReservedSpace)
}

// PushTail appends payload as one record. It returns errs.ErrQueueFull if
// there is no room.
func (q *QDisk) PushTail(payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	recLen := int64(lengthPrefixSize + len(payload))
	if recLen > MaxRecordLen {
		return errs.Wrap(errs.KindCorrupt, "qdisk: record exceeds sanity bound", nil)
	}

	wh := q.header.WriteHead()
	if wh >= q.maxSize() && q.header.BacklogHead() > ReservedSpace {
		wh = ReservedSpace
	}

	remaining := q.maxSize() - wh
	if wh < q.header.BacklogHead() {
		remaining = q.header.BacklogHead() - wh
	}
	if remaining < recLen+1 {
		return errs.ErrQueueFull
	}

	record := make([]byte, recLen)
	buf.PutU32BE(record, uint32(len(payload)))
	copy(record[lengthPrefixSize:], payload)

	if wh+recLen > q.fileSize {
		if err := q.f.Truncate(wh + recLen); err != nil {
			return errs.Wrap(errs.KindIO, "qdisk: extend file", err)
		}
		q.fileSize = wh + recLen
	}
	if _, err := unix.Pwrite(int(q.f.Fd()), record, wh); err != nil {
		return errs.Wrap(errs.KindIO, "qdisk: pwrite", err)
	}

	newWH := wh + recLen
	if newWH >= q.maxSize() && q.header.BacklogHead() > ReservedSpace {
		newWH = ReservedSpace
	}
	q.header.SetWriteHead(newWH)
	q.header.SetLength(q.header.Length() + 1)
	if err := mmfile.Sync(q.mapped); err != nil {
		log.Error("qdisk: header sync failed", "path", q.path, "err", err)
	}
	return nil
}

// PopHead reads and removes the oldest record.
// In non-reliable mode backlogHead advances with readHead, since no
// rewind is possible; in reliable mode the record stays available for
// RewindBacklog until AckBacklog releases it.
func (q *QDisk) PopHead() ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rh, wh := q.header.ReadHead(), q.header.WriteHead()
	if rh == wh {
		return nil, errs.Wrap(errs.KindState, "qdisk: empty", nil)
	}
	if rh >= q.fileSize {
		rh = ReservedSpace
	}

	payload, recLen, err := q.readRecordAt(rh)
	if err != nil {
		return nil, err
	}

	newRH := rh + recLen
	if newRH >= q.maxSize() {
		newRH = ReservedSpace
	}
	q.header.SetReadHead(newRH)
	q.header.SetLength(q.header.Length() - 1)
	q.header.SetBacklogLen(q.header.BacklogLen() + 1)
	if !q.opts.Reliable {
		q.header.SetBacklogHead(newRH)
		q.header.SetBacklogLen(0)
	}
	return payload, nil
}

// readRecordAt reads one length-prefixed record at off, validating the
// sanity bound on length and that the record actually fits within the
// file's current extent before allocating a buffer for it.
func (q *QDisk) readRecordAt(off int64) ([]byte, int64, error) {
	lenBuf := make([]byte, lengthPrefixSize)
	if _, err := unix.Pread(int(q.f.Fd()), lenBuf, off); err != nil {
		return nil, 0, errs.Wrap(errs.KindIO, "qdisk: pread length", err)
	}
	length := buf.U32BE(lenBuf)
	if length == 0 || int64(length) > MaxRecordLen {
		return nil, 0, errs.Wrap(errs.KindCorrupt, "qdisk: implausible record length", nil)
	}
	end, ok := buf.AddOverflowSafe(int(off), lengthPrefixSize+int(length))
	if !ok || int64(end) > q.fileSize {
		return nil, 0, errs.Wrap(errs.KindCorrupt, "qdisk: record extends past file extent", nil)
	}
	payload := make([]byte, length)
	if _, err := unix.Pread(int(q.f.Fd()), payload, off+lengthPrefixSize); err != nil {
		return nil, 0, errs.Wrap(errs.KindIO, "qdisk: pread payload", err)
	}
	return payload, int64(lengthPrefixSize) + int64(length), nil
}

// RewindBacklog replays the last n popped-but-unacked records by resetting
// readHead back toward backlogHead.
func (q *QDisk) RewindBacklog(n int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	backlogLen := q.header.BacklogLen()
	if n > backlogLen {
		return errs.ErrRewindTooMany
	}
	walk := backlogLen - n
	off := q.header.BacklogHead()
	for i := int64(0); i < walk; i++ {
		if off >= q.fileSize {
			off = ReservedSpace
		}
		_, recLen, err := q.readRecordAt(off)
		if err != nil {
			return err
		}
		off += recLen
		if off >= q.maxSize() {
			off = ReservedSpace
		}
	}
	q.header.SetReadHead(off)
	q.header.SetLength(q.header.Length() + n)
	q.header.SetBacklogLen(backlogLen - n)
	return nil
}

// AckBacklog releases the oldest n backlog records, advancing backlogHead
// past them.
func (q *QDisk) AckBacklog(n int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	backlogLen := q.header.BacklogLen()
	if n > backlogLen {
		n = backlogLen
	}
	off := q.header.BacklogHead()
	for i := int64(0); i < n; i++ {
		if off >= q.fileSize {
			off = ReservedSpace
		}
		_, recLen, err := q.readRecordAt(off)
		if err != nil {
			return err
		}
		off += recLen
		if off >= q.maxSize() {
			off = ReservedSpace
		}
	}
	q.header.SetBacklogHead(off)
	q.header.SetBacklogLen(backlogLen - n)
	return nil
}

// Truncate shrinks the file to max(writeHead, ReservedSpace) when no wrap
// is active and the shrinkage clears the configured ratio threshold.
// ratio is TruncateSizeRatio unless the v1 wrap-compat flag forces
// aggressive truncation (ratio 0, i.e. any shrinkage qualifies). It does
// nothing when the file was opened with Preallocate.
func (q *QDisk) Truncate() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.opts.Preallocate {
		return nil
	}
	if q.header.WriteHead() < q.header.ReadHead() {
		return nil // wrap active: the tail past writeHead still holds live data
	}
	target := q.header.WriteHead()
	if target < ReservedSpace {
		target = ReservedSpace
	}
	shrink := q.fileSize - target
	if shrink <= 0 {
		return nil
	}
	ratio := q.opts.TruncateSizeRatio
	if q.header.UseV1Wrap() {
		ratio = 0
	}
	if float64(shrink) < ratio*float64(q.maxSize()) {
		return nil
	}
	if err := q.f.Truncate(target); err != nil {
		return errs.Wrap(errs.KindIO, "qdisk: truncate", err)
	}
	q.fileSize = target
	return nil
}

// Quarantine renames the queue file to a ".corrupted[-N]" sibling and
// returns the path a fresh queue file should be created at in its place.
// The caller is responsible for calling Open again at the original path
// and for preserving any front-cache contents it already holds in memory.
func (q *QDisk) Quarantine() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	dest := q.path + ".corrupted"
	for n := 1; fileExists(dest); n++ {
		dest = q.path + ".corrupted-" + itoa(n)
	}
	if err := os.Rename(q.path, dest); err != nil {
		return "", errs.Wrap(errs.KindIO, "qdisk: quarantine rename", err)
	}
	log.Error("qdisk: queue file corrupted, quarantined", "path", q.path, "quarantined_as", dest)
	return dest, nil
}

// AppendTail serializes records as consecutive u32be-length-prefixed blobs
// starting right after the file's current extent and returns the
// (offset, length, count) triple the caller should stash in one of the
// header's off-disk tail slots. The tail lives past the ring's accounted
// extent, so it never competes with PushTail/PopHead for space.
func (q *QDisk) AppendTail(records [][]byte) (Position, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(records) == 0 {
		return Position{}, nil
	}
	var blob []byte
	for _, r := range records {
		var lenb [lengthPrefixSize]byte
		buf.PutU32BE(lenb[:], uint32(len(r)))
		blob = append(blob, lenb[:]...)
		blob = append(blob, r...)
	}
	off := q.fileSize
	if err := q.f.Truncate(off + int64(len(blob))); err != nil {
		return Position{}, errs.Wrap(errs.KindIO, "qdisk: extend for tail", err)
	}
	if _, err := unix.Pwrite(int(q.f.Fd()), blob, off); err != nil {
		return Position{}, errs.Wrap(errs.KindIO, "qdisk: pwrite tail", err)
	}
	q.fileSize = off + int64(len(blob))
	return Position{Offset: off, Length: uint32(len(blob)), Count: uint32(len(records))}, nil
}

// ReadTail reads back the records AppendTail wrote at pos. A zero-value
// Position (Count == 0) yields no records, matching an empty saved tail.
func (q *QDisk) ReadTail(pos Position) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if pos.Count == 0 {
		return nil, nil
	}
	blob := make([]byte, pos.Length)
	if _, err := unix.Pread(int(q.f.Fd()), blob, pos.Offset); err != nil {
		return nil, errs.Wrap(errs.KindIO, "qdisk: pread tail", err)
	}
	records := make([][]byte, 0, pos.Count)
	off := 0
	for i := uint32(0); i < pos.Count; i++ {
		if off+lengthPrefixSize > len(blob) {
			return nil, errs.Wrap(errs.KindCorrupt, "qdisk: truncated tail", nil)
		}
		length := buf.U32BE(blob[off:])
		off += lengthPrefixSize
		if off+int(length) > len(blob) {
			return nil, errs.Wrap(errs.KindCorrupt, "qdisk: truncated tail record", nil)
		}
		records = append(records, blob[off:off+int(length)])
		off += int(length)
	}
	return records, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for n > 0 {
		i--
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[i:])
}
