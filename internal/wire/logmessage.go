package wire

import (
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"

	"github.com/axoflow/corelogd/internal/corelog/errs"
	"github.com/axoflow/corelogd/internal/logmsg"
	"github.com/axoflow/corelogd/internal/nvtable"
	"github.com/axoflow/corelogd/internal/registry"
)

// CurrentVersion is the format version this module writes.
const CurrentVersion = 23

// Version bands this reader accepts, matching §4.5's historical grouping:
//
//   - 0-9 ("legacy"): 32-bit timestamps, no structured-data index, matches
//     held outside the payload as a separate list, message body and
//     matches written in the pre-UTF8 charset the original daemon assumed
//     for unmarked input.
//   - 10-12 ("transitional"): widened to 64-bit timestamps and 32-bit
//     flags, but still pre-NVTable: the payload is a flat name/value list
//     rather than a self-contained blob.
//   - 20-23 ("current"): the NVTable-carrying layout Marshal writes.
//
// 13-19 predate the NVTable but are otherwise undocumented beyond "pre-NVTable
// payload layout"; nothing in this module ever wrote that intermediate shape
// and no upstream caller emits it either, so the reader declines to guess at
// it rather than fabricate a decode path with no producer to validate
// against.
const (
	legacyMaxVersion = 9
	transitionalMinVersion = 10
	transitionalMaxVersion = 12
	nvMinVersion = 20
)

// nvByteOrderMarker is always 1: this module's NVTable encoding is
// explicit little-endian via encoding/binary, so there is no host-order
// dependency to record or correct for at load, unlike a C struct overlay.
const nvByteOrderMarker = 1

// legacyCharset decodes pre-v10 message bodies and match values, written
// before the core had a UTF8 semantic flag to mark anything otherwise.
var legacyCharset = charmap.ISO8859_1

// Marshal encodes m in the current wire format.
func Marshal(m *logmsg.LogMessage) []byte {
	w := NewWriter()
	w.PutU8(CurrentVersion)
	w.PutU64(m.Rcptid())
	w.PutU32(m.WireFlags())
	w.PutU16(m.Pri())
	w.PutCString(m.SAddr())
	putStamp(w, m.Stamp(logmsg.StampParsed))
	putStamp(w, m.Stamp(logmsg.StampReceived))
	for _, tag := range m.Tags() {
		w.PutCString(tag)
	}
	w.PutCString("")
	w.PutU8(boolU8(m.InitialParse()))
	w.PutU8(m.NumMatches())
	sdata := m.SDataHandles()
	w.PutU8(uint8(minInt(len(sdata), 255)))
	w.PutU8(uint8(minInt(cap(sdata), 255)))
	for _, h := range sdata {
		w.PutU16(uint16(h))
	}
	w.PutU8(nvByteOrderMarker)
	w.PutBytes(m.Payload().Bytes())
	return w.Bytes()
}

func putStamp(w *Writer, s logmsg.Stamp) {
	w.PutU64(uint64(s.Sec))
	w.PutU32(uint32(s.Usec))
	w.PutU32(uint32(s.ZoneOffset))
}

func getStamp(r *Reader) (logmsg.Stamp, error) {
	sec, err := r.GetU64()
	if err != nil {
		return logmsg.Stamp{}, err
	}
	usec, err := r.GetU32()
	if err != nil {
		return logmsg.Stamp{}, err
	}
	zone, err := r.GetU32()
	if err != nil {
		return logmsg.Stamp{}, err
	}
	return logmsg.Stamp{Sec: int64(sec), Usec: int32(usec), ZoneOffset: int32(zone)}, nil
}

// getStamp32 decodes a pre-v10 32-bit timestamp: seconds and microseconds
// only, no zone offset field existed yet.
func getStamp32(r *Reader) (logmsg.Stamp, error) {
	sec, err := r.GetU32()
	if err != nil {
		return logmsg.Stamp{}, err
	}
	usec, err := r.GetU32()
	if err != nil {
		return logmsg.Stamp{}, err
	}
	return logmsg.Stamp{Sec: int64(sec), Usec: int32(usec)}, nil
}

// Unmarshal decodes a wire-format LogMessage, remapping every payload and
// structured-data handle into reg. It dispatches on the version byte to
// one of three historical layouts (see the version-band constants above).
func Unmarshal(reg *registry.Registry, data []byte) (*logmsg.LogMessage, error) {
	if reg == nil {
		reg = registry.Default()
	}
	r := NewReader(data)
	version, err := r.GetU8()
	if err != nil {
		return nil, err
	}
	switch {
	case version <= legacyMaxVersion:
		return unmarshalLegacy(reg, r)
	case version >= transitionalMinVersion && version <= transitionalMaxVersion:
		return unmarshalTransitional(reg, r)
	case version >= nvMinVersion && version <= CurrentVersion:
		return unmarshalCurrent(reg, r)
	default:
		return nil, errs.Wrap(errs.KindVersion, "wire: unsupported LogMessage version", errs.ErrUnsupportedV)
	}
}

// unmarshalLegacy decodes versions 0-9: 32-bit timestamps, no structured
// data, HOST/PROGRAM/MESSAGE and the numbered matches all legacy-charset
// decoded into UTF-8 before being stored.
func unmarshalLegacy(reg *registry.Registry, r *Reader) (*logmsg.LogMessage, error) {
	rcptid, err := r.GetU64()
	if err != nil {
		return nil, err
	}
	flags16, err := r.GetU16()
	if err != nil {
		return nil, err
	}
	pri, err := r.GetU16()
	if err != nil {
		return nil, err
	}
	saddr, err := r.GetCString()
	if err != nil {
		return nil, err
	}
	parsed, err := getStamp32(r)
	if err != nil {
		return nil, err
	}
	recvd, err := getStamp32(r)
	if err != nil {
		return nil, err
	}
	var tags []string
	for {
		tag, err := r.GetCString()
		if err != nil {
			return nil, err
		}
		if tag == "" {
			break
		}
		tags = append(tags, tag)
	}
	host, err := r.GetCString()
	if err != nil {
		return nil, err
	}
	program, err := r.GetCString()
	if err != nil {
		return nil, err
	}
	rawMsg, err := r.GetBytes()
	if err != nil {
		return nil, err
	}
	numMatches, err := r.GetU8()
	if err != nil {
		return nil, err
	}
	rawMatches := make([][]byte, numMatches)
	for i := range rawMatches {
		raw, err := r.GetBytes()
		if err != nil {
			return nil, err
		}
		rawMatches[i] = raw
	}

	m := logmsg.NewEmpty(reg)
	m.SetRcptid(rcptid)
	m.SetWireFlags(uint32(flags16))
	m.SetPri(pri)
	m.SetSAddrDirect(saddr)
	m.SetStamp(logmsg.StampParsed, parsed)
	m.SetStamp(logmsg.StampReceived, recvd)
	for _, tag := range tags {
		m.SetTag(tag)
	}
	// Decoding into UTF-8 below makes this message's payload UTF-8 even
	// though the bytes on the wire weren't.
	m.SetSemantic(logmsg.UTF8, true)

	if host != "" {
		decoded, derr := decodeLegacyBytes([]byte(host))
		if derr != nil {
			return nil, derr
		}
		m.SetValue(registry.Host, decoded)
	}
	if program != "" {
		decoded, derr := decodeLegacyBytes([]byte(program))
		if derr != nil {
			return nil, derr
		}
		m.SetValue(registry.Program, decoded)
	}
	decodedMsg, derr := decodeLegacyBytes(rawMsg)
	if derr != nil {
		return nil, derr
	}
	m.SetValue(registry.Message, decodedMsg)

	for i, raw := range rawMatches {
		decoded, derr := decodeLegacyBytes(raw)
		if derr != nil {
			return nil, derr
		}
		m.SetMatch(i, decoded)
	}
	return m, nil
}

// decodeLegacyBytes transcodes raw from the legacy eight-bit charset to
// UTF-8. An empty slice decodes to itself without invoking the charmap
// decoder.
func decodeLegacyBytes(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	out, err := legacyCharset.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, errs.Wrap(errs.KindCorrupt, "wire: legacy charset decode failed", err)
	}
	return out, nil
}

// unmarshalTransitional decodes versions 10-12: 64-bit timestamps and
// 32-bit flags already match the current layout, but the payload is a
// flat name/value list rather than a self-contained NVTable blob, and
// there is no structured-data index yet.
func unmarshalTransitional(reg *registry.Registry, r *Reader) (*logmsg.LogMessage, error) {
	rcptid, err := r.GetU64()
	if err != nil {
		return nil, err
	}
	flags, err := r.GetU32()
	if err != nil {
		return nil, err
	}
	pri, err := r.GetU16()
	if err != nil {
		return nil, err
	}
	saddr, err := r.GetCString()
	if err != nil {
		return nil, err
	}
	parsed, err := getStamp(r)
	if err != nil {
		return nil, err
	}
	recvd, err := getStamp(r)
	if err != nil {
		return nil, err
	}
	var tags []string
	for {
		tag, err := r.GetCString()
		if err != nil {
			return nil, err
		}
		if tag == "" {
			break
		}
		tags = append(tags, tag)
	}
	initialParse, err := r.GetU8()
	if err != nil {
		return nil, err
	}
	if _, err := r.GetU8(); err != nil { // num_matches, recomputed below like the current format
		return nil, err
	}
	numValues, err := r.GetU16()
	if err != nil {
		return nil, err
	}

	m := logmsg.NewEmpty(reg)
	m.SetRcptid(rcptid)
	m.SetWireFlags(flags)
	m.SetPri(pri)
	m.SetSAddrDirect(saddr)
	m.SetStamp(logmsg.StampParsed, parsed)
	m.SetStamp(logmsg.StampReceived, recvd)
	for _, tag := range tags {
		m.SetTag(tag)
	}
	m.SetInitialParse(initialParse != 0)

	maxMatch := -1
	for i := 0; i < int(numValues); i++ {
		name, err := r.GetCString()
		if err != nil {
			return nil, err
		}
		value, err := r.GetBytes()
		if err != nil {
			return nil, err
		}
		h := reg.AllocHandle(name)
		if h == registry.None {
			continue
		}
		m.SetValue(h, value)
		if idx, ok := matchIndex(name); ok && idx > maxMatch {
			maxMatch = idx
		}
	}
	if maxMatch >= 0 {
		m.SetNumMatchesDirect(uint8(maxMatch + 1))
	}
	return m, nil
}

// unmarshalCurrent decodes versions 20-23: the NVTable-carrying layout
// Marshal writes.
func unmarshalCurrent(reg *registry.Registry, r *Reader) (*logmsg.LogMessage, error) {
	rcptid, err := r.GetU64()
	if err != nil {
		return nil, err
	}
	flags, err := r.GetU32()
	if err != nil {
		return nil, err
	}
	pri, err := r.GetU16()
	if err != nil {
		return nil, err
	}
	saddr, err := r.GetCString()
	if err != nil {
		return nil, err
	}
	parsed, err := getStamp(r)
	if err != nil {
		return nil, err
	}
	recvd, err := getStamp(r)
	if err != nil {
		return nil, err
	}
	var tags []string
	for {
		tag, err := r.GetCString()
		if err != nil {
			return nil, err
		}
		if tag == "" {
			break
		}
		tags = append(tags, tag)
	}
	initialParse, err := r.GetU8()
	if err != nil {
		return nil, err
	}
	_, err = r.GetU8() // numMatches is recomputed below from $N handles actually present
	if err != nil {
		return nil, err
	}
	numSData, err := r.GetU8()
	if err != nil {
		return nil, err
	}
	if _, err := r.GetU8(); err != nil { // alloc_sdata: capacity hint, not load-bearing on decode
		return nil, err
	}
	rawSData := make([]uint16, numSData)
	for i := range rawSData {
		h, err := r.GetU16()
		if err != nil {
			return nil, err
		}
		rawSData[i] = h
	}
	marker, err := r.GetU8()
	if err != nil {
		return nil, err
	}
	if marker != nvByteOrderMarker {
		return nil, errs.Wrap(errs.KindCorrupt, "wire: unrecognized nvtable byte-order marker", nil)
	}
	nvBytes, err := r.GetBytes()
	if err != nil {
		return nil, err
	}

	m := logmsg.NewEmpty(reg)
	m.SetRcptid(rcptid)
	m.SetWireFlags(flags)
	m.SetPri(pri)
	m.SetSAddrDirect(saddr)
	m.SetStamp(logmsg.StampParsed, parsed)
	m.SetStamp(logmsg.StampReceived, recvd)
	for _, tag := range tags {
		m.SetTag(tag)
	}
	m.SetInitialParse(initialParse != 0)

	oldTable, err := nvtable.FromBytes(append([]byte(nil), nvBytes...), registry.NumBuiltin()-1)
	if err != nil {
		return nil, err
	}
	handleMap := make(map[registry.Handle]registry.Handle)
	maxMatch := -1
	oldTable.Foreach(func(h registry.Handle, name string, value []byte, indirect bool) {
		newH := reg.AllocHandle(name)
		if newH == registry.None {
			return
		}
		handleMap[h] = newH
		m.SetValue(newH, value)
		if idx, ok := matchIndex(name); ok && idx > maxMatch {
			maxMatch = idx
		}
	})
	if maxMatch >= 0 {
		m.SetNumMatchesDirect(uint8(maxMatch + 1))
	}
	for _, raw := range rawSData {
		newH, ok := handleMap[registry.Handle(raw)]
		if !ok {
			continue
		}
		reg.SetHandleFlags(newH, registry.FlagSDATA)
		m.AdoptSData(newH)
	}
	return m, nil
}

func boolU8(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// matchIndex reports whether name is a numbered-submatch handle "$N".
func matchIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, "$") {
		return 0, false
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
