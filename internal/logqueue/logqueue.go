// Package logqueue implements LogQueueDisk: a disk-backed FIFO queue
// composed from internal/qdisk plus three in-memory tails — a front cache
// ("qout"), a flow-control window, and an overflow — and, in reliable
// mode, backlog semantics that let a consumer replay unacked records
// after a transport failure.
//
// The front-cache/flow-control/overflow rings are grounded on the bounded
// ring-over-a-slice-with-head/tail-indices idiom used throughout the
// teacher's internal/edit allocator cursors; there is no direct FIFO-cache
// analogue in hivekit itself, since a hive file is mapped and walked
// wholesale rather than streamed (DESIGN.md).
package logqueue

import (
	"strings"
	"sync"

	"github.com/axoflow/corelogd/internal/corelog/errs"
	"github.com/axoflow/corelogd/internal/corelog/log"
	"github.com/axoflow/corelogd/internal/logmsg"
	"github.com/axoflow/corelogd/internal/qdisk"
	"github.com/axoflow/corelogd/internal/registry"
	"github.com/axoflow/corelogd/internal/wire"
)

// Options configures a Queue on top of a qdisk.Options.
type Options struct {
	Disk qdisk.Options
	FrontCacheSize int // qout capacity; 0 disables the front cache
	FlowControlWindowSize int // in-memory tail used once the disk is full
	OverflowSize int // secondary in-memory tail once the window is also full
	Registry *registry.Registry
}

// Stats is a point-in-time snapshot of a queue's counters.
type Stats struct {
	Queued int64 // queued messages, across every tier
	MemoryBytes int64 // approximate bytes held in the front cache
	DiskBytesUsed int64 // bytes of the ring currently occupied by retained records
	DiskAllocBytes int64 // configured disk_buf_size in bytes, not the file's current size
	CapacityKiB int64 // configured MaxSize, in KiB
	Dropped int64 // messages dropped because every tier was full
}

// ring is a small bounded FIFO of undecoded records, reused for the front
// cache, flow-control window, and overflow tails.
type ring struct {
	items []*logmsg.LogMessage
	cap int
}

func newRing(capacity int) *ring { return &ring{cap: capacity} }

// push enqueues m if there is room. A ring with cap <= 0 is disabled (the
// "0 disables the front cache" contract in Options) and never accepts a
// push.
func (r *ring) push(m *logmsg.LogMessage) bool {
	if r.cap <= 0 || len(r.items) >= r.cap {
		return false
	}
	r.items = append(r.items, m)
	return true
}

func (r *ring) pop() (*logmsg.LogMessage, bool) {
	if len(r.items) == 0 {
		return nil, false
	}
	m := r.items[0]
	r.items = r.items[1:]
	return m, true
}

func (r *ring) len() int { return len(r.items) }

// Queue is a disk-backed LogQueueDisk, reliable or non-reliable depending
// on Options.Disk.Reliable.
type Queue struct {
	mu sync.Mutex
	name string
	path string
	disk *qdisk.QDisk
	opts Options
	front *ring
	flow *ring
	overflow *ring
	dropped int64
}

// Open creates or attaches to the queue file at path.
func Open(name, path string, opts Options) (*Queue, error) {
	d, err := qdisk.Open(path, opts.Disk)
	if err != nil {
		return nil, err
	}
	q := &Queue{
		name: name,
		path: path,
		disk: d,
		opts: opts,
		front: newRing(opts.FrontCacheSize),
		flow: newRing(opts.FlowControlWindowSize),
		overflow: newRing(opts.OverflowSize),
	}
	if err := q.restoreTails(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) reg() *registry.Registry {
	if q.opts.Registry != nil {
		return q.opts.Registry
	}
	return registry.Default()
}

// restoreTails reloads the qout/qbacklog/qoverflow off-disk tails a prior
// Close wrote into the header, then clears those header slots so they are
// not double-restored on a subsequent open without an intervening close.
func (q *Queue) restoreTails() error {
	h := q.disk.Header()
	tails := []struct {
		pos qdisk.Position
		r *ring
		clear func()
	}{
		{h.QOutPos(), q.front, func() { h.SetQOutPos(qdisk.Position{}) }},
		{h.QBacklogPos(), q.flow, func() { h.SetQBacklogPos(qdisk.Position{}) }},
		{h.QOverflowPos(), q.overflow, func() { h.SetQOverflowPos(qdisk.Position{}) }},
	}
	for _, tail := range tails {
		records, err := q.disk.ReadTail(tail.pos)
		if err != nil {
			return err
		}
		for _, rec := range records {
			m, err := wire.Unmarshal(q.reg(), rec)
			if err != nil {
				log.Warn("logqueue: dropping undecodable restored tail record", "name", q.name, "err", err)
				continue
			}
			tail.r.push(m)
		}
		tail.clear()
	}
	return nil
}

// PushTail enqueues msg.
//
// Non-reliable: front cache first (while below capacity), then disk, then
// the flow-control window, then overflow; if every tier is full the
// message is dropped and the dropped counter increments.
//
// Reliable: every message always goes to disk first; the front cache is a
// pure read cache layered on top, so a push also seeds it when there is
// room, without that counting against disk space.
func (q *Queue) PushTail(m *logmsg.LogMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.opts.Disk.Reliable {
		if err := q.pushDisk(m); err != nil {
			return q.handleCorruption(err, func() error { return q.pushDisk(m) })
		}
		q.front.push(m) // best effort; front is a cache, not authoritative
		return nil
	}

	if q.front.push(m) {
		return nil
	}
	if err := q.pushDisk(m); err == nil {
		return nil
	} else if !errs.Is(err, errs.KindFull) {
		return q.handleCorruption(err, func() error { return q.pushDisk(m) })
	}
	if q.flow.push(m) {
		return nil
	}
	if q.overflow.push(m) {
		return nil
	}
	q.dropped++
	return errs.ErrQueueFull
}

func (q *Queue) pushDisk(m *logmsg.LogMessage) error {
	return q.disk.PushTail(wire.Marshal(m))
}

// PopHead dequeues the oldest message. It
// returns (nil, nil) when the queue is empty.
//
// Reliable: every message lives on disk first (PushTail), with the front
// cache holding a best-effort copy of the same not-yet-popped message, so
// popping must always advance the disk cursor and drop the front entry in
// lockstep — serving from front alone would leave disk.ReadHead behind
// and redeliver the cached message once the cache ran dry.
//
// Non-reliable: front/flow/overflow are exclusive tiers (a message lives
// in exactly one), so popping front never touches disk.
func (q *Queue) PopHead() (*logmsg.LogMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.opts.Disk.Reliable {
		return q.popReliable()
	}

	if m, ok := q.front.pop(); ok {
		return m, nil
	}
	raw, err := q.disk.PopHead()
	if err == nil {
		m, uerr := wire.Unmarshal(q.reg(), raw)
		if uerr != nil {
			return nil, uerr
		}
		return m, nil
	}
	if !errs.Is(err, errs.KindState) { // not the empty sentinel: a real I/O/corruption error
		return nil, q.handleCorruption(err, nil)
	}
	if m, ok := q.flow.pop(); ok {
		return m, nil
	}
	if m, ok := q.overflow.pop(); ok {
		return m, nil
	}
	return nil, nil
}

func (q *Queue) popReliable() (*logmsg.LogMessage, error) {
	raw, err := q.disk.PopHead()
	if err == nil {
		if cached, ok := q.front.pop(); ok {
			return cached, nil
		}
		m, uerr := wire.Unmarshal(q.reg(), raw)
		if uerr != nil {
			return nil, uerr
		}
		return m, nil
	}
	if !errs.Is(err, errs.KindState) { // not the empty sentinel: a real I/O/corruption error
		return nil, q.handleCorruption(err, nil)
	}
	return nil, nil // empty; the front cache never outlives the disk content it mirrors
}

// AckBacklog confirms delivery of the n oldest popped-but-unacked records
// (reliable mode: releases them from the backlog; non-reliable mode: a
// no-op, since PopHead already advanced backlogHead with no rewind
// possible).
func (q *Queue) AckBacklog(n int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.disk.AckBacklog(n)
}

// RewindBacklog replays the last n popped-but-unacked records, available
// only in reliable mode.
func (q *Queue) RewindBacklog(n int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.opts.Disk.Reliable {
		return errs.Wrap(errs.KindState, "logqueue: rewind_backlog is reliable-only", nil)
	}
	return q.disk.RewindBacklog(n)
}

// handleCorruption quarantines the underlying qdisk file when err is a
// corruption error, opens a fresh one at the original name, and — if
// retry is non-nil — retries the operation once against the fresh file.
func (q *Queue) handleCorruption(err error, retry func() error) error {
	if !errs.Is(err, errs.KindCorrupt) {
		return err
	}
	if _, qerr := q.disk.Quarantine(); qerr != nil {
		return qerr
	}
	fresh, oerr := qdisk.Open(q.path, q.opts.Disk)
	if oerr != nil {
		return oerr
	}
	q.disk = fresh
	if retry != nil {
		return retry()
	}
	return nil
}

// Close serializes the three in-memory tails to the disk file and records
// their (offset, length, count) triples in the header so a subsequent
// Open restores them.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	h := q.disk.Header()
	for r, setPos := range map[*ring]func(qdisk.Position){
		q.front: h.SetQOutPos,
		q.flow: h.SetQBacklogPos,
		q.overflow: h.SetQOverflowPos,
	} {
		records := make([][]byte, 0, r.len())
		for _, m := range r.items {
			records = append(records, wire.Marshal(m))
		}
		pos, err := q.disk.AppendTail(records)
		if err != nil {
			return err
		}
		setPos(pos)
	}
	return q.disk.Close()
}

// GetLength returns the total queued message count across all tiers.
//
// Reliable mode excludes the front cache from this sum: every cached
// message there is also still sitting un-popped on disk (see PopHead), so
// adding both would count it twice.
func (q *Queue) GetLength() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queuedLocked()
}

func (q *Queue) queuedLocked() int64 {
	n := q.disk.Header().Length() + int64(q.flow.len()) + int64(q.overflow.len())
	if !q.opts.Disk.Reliable {
		n += int64(q.front.len())
	}
	return n
}

// GetFilename returns the backing qdisk file's path.
func (q *Queue) GetFilename() string { return q.path }

// Stats reports the queue's exported counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	h := q.disk.Header()
	var mem int64
	for _, m := range q.front.items {
		mem += int64(m.Payload().Size())
	}
	return Stats{
		Queued: q.queuedLocked(),
		MemoryBytes: mem,
		DiskBytesUsed: q.disk.BytesUsed(),
		DiskAllocBytes: h.DiskBufSize(),
		CapacityKiB: h.DiskBufSize() / 1024,
		Dropped: q.dropped,
	}
}

// ClusterKey builds the counter-registration key the original daemon keys
// stats by: "<name>;<reliability>".
func (q *Queue) ClusterKey() string {
	kind := "non-reliable"
	if q.opts.Disk.Reliable {
		kind = "reliable"
	}
	return strings.Join([]string{q.name, kind}, ";")
}
