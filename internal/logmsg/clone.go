package logmsg

import (
	"fmt"

	"github.com/axoflow/corelogd/internal/nvtable"
	"github.com/axoflow/corelogd/internal/registry"
)

// CloneCOW returns a lightweight copy of m that shares m's payload, tags,
// structured-data index and saddr until one of them is first written
// through the clone. Clone chains never nest past depth one: cloning a
// clone points the new clone directly at the original root, not at its
// immediate parent.
//
// If ackNeeded, the clone's own ack counter starts at one and its ack
// callback is installed to forward a single Ack to the original once the
// clone's count reaches zero ; the original's own ack counter is
// bumped by one to match.
func (m *LogMessage) CloneCOW(ackNeeded bool) *LogMessage {
	root := m
	if m.original != nil {
		root = m.original
	}
	root.Ref()
	m.payload.Ref()

	clone := &LogMessage{
		reg: m.reg,
		original: root,
		stamps: m.stamps,
		tags: m.tags,
		sdata: m.sdata,
		saddr: m.saddr,
		payload: m.payload,
		flags: m.flags &^ uint32(stateFlagMask),
		pri: m.pri,
	}
	clone.ackAndRef.Store(pack(1, 0))

	if ackNeeded {
		root.AddAck()
		clone.AddAck()
		clone.SetAckFunc(func(c *LogMessage, _ any) { c.original.Ack() }, nil)
	}
	return clone
}

func (m *LogMessage) ensureOwnPayload() {
	if m.HasState(OwnPayload) {
		return
	}
	shared := m.payload
	m.payload = shared.Clone(0)
	shared.Unref()
	m.setState(OwnPayload, true)
}

func (m *LogMessage) ensureOwnSAddr() {
	m.setState(OwnSAddr, true)
}

// SetValue assigns a direct value to handle h, materializing a private
// payload copy first if the message is still sharing one with its clone
// origin.
func (m *LogMessage) SetValue(h registry.Handle, value []byte) {
	m.ensureOwnPayload()
	if m.reg.GetHandleFlags(h)&registry.FlagSDATA != 0 {
		m.addSData(h)
	}
	if ok, _ := m.payload.AddValue(h, m.nameOf(h), value); !ok {
		m.payload = m.payload.Realloc()
		m.payload.AddValue(h, m.nameOf(h), value)
	}
	if h == registry.Program {
		m.SetSemantic(LegacyMsgHdr, false)
	}
}

// SetValueIndirect assigns an indirect value (a substring of an existing
// direct value) to handle h.
func (m *LogMessage) SetValueIndirect(h registry.Handle, refHandle registry.Handle, typ nvtable.EntryType, offset, length uint32) {
	m.ensureOwnPayload()
	if m.reg.GetHandleFlags(h)&registry.FlagSDATA != 0 {
		m.addSData(h)
	}
	if ok, _ := m.payload.AddValueIndirect(h, m.nameOf(h), refHandle, typ, offset, length); !ok {
		m.payload = m.payload.Realloc()
		m.payload.AddValueIndirect(h, m.nameOf(h), refHandle, typ, offset, length)
	}
}

func (m *LogMessage) nameOf(h registry.Handle) string {
	name, _ := m.reg.GetHandleName(h)
	return name
}

// SetMatch stores the idx'th regex submatch as reserved handle "$idx".
func (m *LogMessage) SetMatch(idx int, value []byte) {
	h := m.reg.AllocHandle(fmt.Sprintf("$%d", idx))
	m.SetValue(h, value)
	if idx+1 > int(m.numMatches) {
		m.numMatches = uint8(idx + 1)
	}
}

// ClearMatches forgets how many numbered submatches are live. The stored
// "$N" values themselves are left in the payload (NVTable has no delete
// operation) until the next rewrite of that handle or the message is
// released.
func (m *LogMessage) ClearMatches() {
	m.numMatches = 0
}

// NumMatches returns the count of live numbered submatches.
func (m *LogMessage) NumMatches() uint8 { return m.numMatches }

// SetNumMatchesDirect sets the live-submatch count without writing any
// "$N" value, for a decoder that has already restored matches as
// ordinary payload entries.
func (m *LogMessage) SetNumMatchesDirect(n uint8) { m.numMatches = n }
