// Package logmsg implements LogMessage: the message entity carrying
// timestamps, priority, sender address, tags, a structured-data index, an
// NVTable payload, and the combined ref/ack counter that ties producers
// to flow-controlled consumers.
//
// A clone holds a pointer back to its authoritative source message and
// only materializes a private copy of a field on first write, instead of
// copying the whole message eagerly.
package logmsg

import (
	"sync/atomic"

	"github.com/axoflow/corelogd/internal/nvtable"
	"github.com/axoflow/corelogd/internal/registry"
)

// StampKind indexes LogMessage.stamps.
type StampKind int

const (
	StampReceived StampKind = iota // RECVD: when the core accepted the message
	StampParsed // STAMP: timestamp parsed out of the message body
	numStamps
)

// Stamp is a syslog timestamp with microsecond resolution and a zone offset
// in seconds east of UTC.
type Stamp struct {
	Sec int64
	Usec int32
	ZoneOffset int32
}

// State flags: cleared on every clone.
type StateFlag uint32

const (
	OwnPayload StateFlag = 1 << iota
	OwnSAddr
	OwnTags
	OwnSData
	Referenced
	stateFlagMask = OwnPayload | OwnSAddr | OwnTags | OwnSData | Referenced
)

// Semantic flags: survive cloning.
type SemanticFlag uint32

const (
	Internal SemanticFlag = 1 << (iota + 8)
	Local
	Mark
	UTF8
	LegacyMsgHdr
	ChainedHostname
)

// AckFunc is invoked when a message's ack counter reaches zero: on a root
// message it is the producer's callback, on a clone it is the forwarder
// CloneCOW installs to ack the original.
type AckFunc func(m *LogMessage, userdata any)

// LogMessage is the message entity.
type LogMessage struct {
	ackAndRef atomic.Uint32 // ACK in bits 16-31, REF in bits 0-15

	ackFunc AckFunc
	ackUserdata any
	original *LogMessage // non-nil for clones; always depth<=1 (§3, §8)

	stamps [numStamps]Stamp

	tags tagStore

	sdata []registry.Handle // sorted so one SD element's params are contiguous

	saddr string

	payload *nvtable.Table

	flags uint32 // StateFlag bits | SemanticFlag bits
	pri uint16

	numMatches uint8
	initialParse bool
	rcptid uint64

	reg *registry.Registry
}

// NewEmpty allocates a ref=1/ack=0 message with no payload set.
func NewEmpty(reg *registry.Registry) *LogMessage {
	if reg == nil {
		reg = registry.Default()
	}
	m := &LogMessage{
		reg: reg,
		payload: nvtable.New(registry.NumBuiltin()-1, 8, 256),
		flags: uint32(OwnPayload | OwnSAddr | OwnTags | OwnSData),
	}
	m.ackAndRef.Store(pack(1, 0))
	return m
}

// New constructs a message from raw bytes received from saddr. parseFn, if
// non-nil, is the (out-of-core) parser plugin; when nil or it returns an
// error, the raw bytes are stored under MESSAGE with a parse error flag
// left unset (the core does not define parse-error flags; callers layer
// that on top).
func New(reg *registry.Registry, raw []byte, saddr string, parseFn func(m *LogMessage, raw []byte) error) *LogMessage {
	m := NewEmpty(reg)
	m.saddr = saddr
	now := nowStamp()
	m.stamps[StampReceived] = now
	m.stamps[StampParsed] = now

	var err error
	if parseFn != nil {
		err = parseFn(m, raw)
	}
	if parseFn == nil || err != nil {
		m.SetValue(registry.Message, raw)
	}
	return m
}

func pack(ref, ack uint16) uint32 { return uint32(ack)<<16 | uint32(ref) }
func unpack(v uint32) (ref, ack uint16) { return uint16(v & 0xffff), uint16(v >> 16) }

// adjust applies refDelta/ackDelta to the combined counter via a single CAS
// loop, recomputing the new value from the CAS's own pre-image each retry.
func (m *LogMessage) adjust(refDelta, ackDelta int32) (oldRef, oldAck, newRef, newAck uint16) {
	for {
		old := m.ackAndRef.Load()
		ref, ack := unpack(old)
		nr := int32(ref) + refDelta
		na := int32(ack) + ackDelta
		nv := pack(uint16(nr), uint16(na))
		if m.ackAndRef.CompareAndSwap(old, nv) {
			return ref, ack, uint16(nr), uint16(na)
		}
	}
}

// RefAck returns the current (ref, ack) snapshot, for tests and counters.
func (m *LogMessage) RefAck() (ref, ack uint16) { return unpack(m.ackAndRef.Load()) }

// Ref increments the reference count by one.
func (m *LogMessage) Ref() { m.adjust(1, 0) }

// Unref decrements the reference count by one. When it reaches zero, the
// message releases its payload reference and, for a clone, its reference
// on the original; no ack callback runs.
func (m *LogMessage) Unref() {
	_, _, newRef, _ := m.adjust(-1, 0)
	if newRef == 0 {
		m.free()
	}
}

func (m *LogMessage) free() {
	m.payload.Unref()
	if m.original != nil {
		m.original.Unref()
	}
}

// AddAck increments this message's own ack counter by one. Every
// LogMessage, clone or root, carries its own counter; a clone's callback
// (installed by CloneCOW) is what forwards completion to the original.
func (m *LogMessage) AddAck() { m.adjust(0, 1) }

// Ack decrements this message's own ack counter by one. When it reaches
// zero, the installed AckFunc fires exactly once: on a root message that
// is whatever callback the producer installed; on a clone, CloneCOW
// installs one that forwards a single Ack to the original.
func (m *LogMessage) Ack() {
	_, oldAck, _, newAck := m.adjust(0, -1)
	if oldAck > 0 && newAck == 0 && m.ackFunc != nil {
		m.ackFunc(m, m.ackUserdata)
	}
}

// Flush applies a batched (refDelta, ackDelta) pair to the atomic counter
// in one CAS and runs the same zero-crossing side effects as individually
// calling Ref/Unref/AddAck/Ack that many times would. This is the flush
// primitive a per-goroutine ref/ack cache performs on Stop.
func (m *LogMessage) Flush(refDelta, ackDelta int32) {
	_, oldAck, newRef, newAck := m.adjust(refDelta, ackDelta)
	if oldAck > 0 && newAck == 0 && m.ackFunc != nil {
		m.ackFunc(m, m.ackUserdata)
	}
	if newRef == 0 {
		m.free()
	}
}

// AddBias adds refBias/ackBias to the atomic counter without triggering
// zero-crossing side effects, used by producer mode to seed the bias
// before the thread-local cache starts tracking deltas relative to -B.
func (m *LogMessage) AddBias(refBias, ackBias int32) { m.adjust(refBias, ackBias) }

// SetAckFunc installs the callback run when the ack counter reaches zero.
func (m *LogMessage) SetAckFunc(fn AckFunc, userdata any) {
	m.ackFunc = fn
	m.ackUserdata = userdata
}

// Original returns the clone-chain root this message forwards acks to, or
// nil if m is itself a root.
func (m *LogMessage) Original() *LogMessage { return m.original }

// Pri returns the syslog priority (facility|severity).
func (m *LogMessage) Pri() uint16 { return m.pri }
func (m *LogMessage) SetPri(pri uint16) { m.pri = pri }

// SAddr returns the sender address.
func (m *LogMessage) SAddr() string { return m.saddr }

// Stamp returns the timestamp of the given kind.
func (m *LogMessage) Stamp(kind StampKind) Stamp { return m.stamps[kind] }

// SetStamp sets the timestamp of the given kind.
func (m *LogMessage) SetStamp(kind StampKind, s Stamp) { m.stamps[kind] = s }

// HasState reports whether every bit in f is set in the state flags.
func (m *LogMessage) HasState(f StateFlag) bool { return uint32(f)&m.flags == uint32(f) }

// HasSemantic reports whether every bit in f is set in the semantic flags.
func (m *LogMessage) HasSemantic(f SemanticFlag) bool { return uint32(f)&m.flags == uint32(f) }

func (m *LogMessage) setState(f StateFlag, v bool) {
	if v {
		m.flags |= uint32(f)
	} else {
		m.flags &^= uint32(f)
	}
}

// SetSemantic sets or clears a semantic flag bit.
func (m *LogMessage) SetSemantic(f SemanticFlag, v bool) {
	if v {
		m.flags |= uint32(f)
	} else {
		m.flags &^= uint32(f)
	}
}

// Payload exposes the backing NVTable for read-only iteration (Foreach,
// serialization). Mutators must go through SetValue/SetValueIndirect so
// copy-on-write is honored.
func (m *LogMessage) Payload() *nvtable.Table { return m.payload }

// Registry returns the handle registry this message resolves names
// against.
func (m *LogMessage) Registry() *registry.Registry { return m.reg }

// Rcptid returns the receipt sequence id recorded on the wire; it is
// opaque to the core and set by whatever assigns sequencing (a source
// driver or the disk queue).
func (m *LogMessage) Rcptid() uint64 { return m.rcptid }
func (m *LogMessage) SetRcptid(id uint64) { m.rcptid = id }

// InitialParse reports whether the message has already been through its
// first parse pass.
func (m *LogMessage) InitialParse() bool { return m.initialParse }
func (m *LogMessage) SetInitialParse(v bool) { m.initialParse = v }

// WireFlags returns the semantic flag bits, with the in-memory state bits
// (own_payload, own_tags,...) masked out, since those never leave the
// process.
func (m *LogMessage) WireFlags() uint32 { return m.flags &^ uint32(stateFlagMask) }

// SetWireFlags installs semantic flag bits decoded off the wire, leaving
// this message's own in-memory state bits untouched.
func (m *LogMessage) SetWireFlags(v uint32) {
	m.flags = (m.flags & uint32(stateFlagMask)) | (v &^ uint32(stateFlagMask))
}

// SetSAddrDirect sets the sender address without going through
// copy-on-write bookkeeping, for building a freshly decoded message that
// has no clone origin to protect.
func (m *LogMessage) SetSAddrDirect(s string) { m.saddr = s }

// SDataHandles returns the structured-data index in sorted order.
func (m *LogMessage) SDataHandles() []registry.Handle { return m.sdata }

// AdoptSData inserts h into the structured-data index directly, for a
// freshly decoded message reconstructing its index from the wire.
func (m *LogMessage) AdoptSData(h registry.Handle) { m.addSData(h) }
