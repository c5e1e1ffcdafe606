package wire

import (
	"testing"

	"github.com/axoflow/corelogd/internal/logmsg"
	"github.com/axoflow/corelogd/internal/registry"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	reg := registry.New()
	m := logmsg.NewEmpty(reg)
	m.SetRcptid(42)
	m.SetPri(134)
	m.SetSAddrDirect("192.0.2.1")
	m.SetValue(registry.Host, []byte("box1"))
	m.SetValue(registry.Message, []byte("hello world"))
	m.SetTag("suspicious")
	m.SetMatch(0, []byte("alpha"))

	data := Marshal(m)
	got, err := Unmarshal(registry.New(), data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.Rcptid() != 42 {
		t.Fatalf("Rcptid = %d, want 42", got.Rcptid())
	}
	if got.Pri() != 134 {
		t.Fatalf("Pri = %d, want 134", got.Pri())
	}
	if got.SAddr() != "192.0.2.1" {
		t.Fatalf("SAddr = %q", got.SAddr())
	}
	if !got.IsTagSet("suspicious") {
		t.Fatalf("tag lost in round trip")
	}
	if got.NumMatches() != 1 {
		t.Fatalf("NumMatches = %d, want 1", got.NumMatches())
	}

	gotReg := got.Registry()
	hostVal, present := got.Payload().GetValue(gotReg.GetHandle("HOST"))
	if !present || string(hostVal) != "box1" {
		t.Fatalf("HOST value = %q,%v", hostVal, present)
	}
	msgVal, present := got.Payload().GetValue(gotReg.GetHandle("MESSAGE"))
	if !present || string(msgVal) != "hello world" {
		t.Fatalf("MESSAGE value = %q,%v", msgVal, present)
	}
}

func TestUnmarshalRejectsUndocumentedVersion(t *testing.T) {
	w := NewWriter()
	w.PutU8(19) // 13-19: pre-NVTable but otherwise undocumented, no decode path
	if _, err := Unmarshal(nil, w.Bytes()); err == nil {
		t.Fatalf("expected error for version 19")
	}
}

// encodeLegacyV0 hand-builds a version-0 byte stream: 32-bit timestamps,
// no structured data, matches stored outside the payload.
func encodeLegacyV0(rcptid uint64, flags uint16, pri uint16, saddr string, host, program, message string, matches []string) []byte {
	w := NewWriter()
	w.PutU8(0)
	w.PutU64(rcptid)
	w.PutU16(flags)
	w.PutU16(pri)
	w.PutCString(saddr)
	w.PutU32(1700000000) // STAMP sec
	w.PutU32(0) // STAMP usec
	w.PutU32(1700000001) // RECVD sec
	w.PutU32(0) // RECVD usec
	w.PutCString("")
	w.PutCString(host)
	w.PutCString(program)
	w.PutBytes([]byte(message))
	w.PutU8(uint8(len(matches)))
	for _, m := range matches {
		w.PutBytes([]byte(m))
	}
	return w.Bytes()
}

func TestUnmarshalLegacyV0(t *testing.T) {
	data := encodeLegacyV0(7, 0x0003, 134, "192.0.2.9", "legacyhost", "sshd", "login failed", []string{"alpha", "beta"})
	reg := registry.New()
	got, err := Unmarshal(reg, data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Rcptid() != 7 {
		t.Fatalf("Rcptid = %d, want 7", got.Rcptid())
	}
	if got.Pri() != 134 {
		t.Fatalf("Pri = %d, want 134", got.Pri())
	}
	if !got.HasSemantic(logmsg.UTF8) {
		t.Fatalf("legacy decode should set the UTF8 semantic flag")
	}
	if v, ok := got.Payload().GetValue(reg.GetHandle("HOST")); !ok || string(v) != "legacyhost" {
		t.Fatalf("HOST = %q,%v", v, ok)
	}
	if v, ok := got.Payload().GetValue(reg.GetHandle("MESSAGE")); !ok || string(v) != "login failed" {
		t.Fatalf("MESSAGE = %q,%v", v, ok)
	}
	if got.NumMatches() != 2 {
		t.Fatalf("NumMatches = %d, want 2", got.NumMatches())
	}

	// Round trip through the current format and back (§8: deserialize then
	// serialize at current version then deserialize yields the same state).
	reData := Marshal(got)
	again, err := Unmarshal(registry.New(), reData)
	if err != nil {
		t.Fatalf("re-Unmarshal: %v", err)
	}
	if again.Rcptid() != 7 || again.Pri() != 134 {
		t.Fatalf("round trip lost rcptid/pri: %+v", again)
	}
	if v, ok := again.Payload().GetValue(again.Registry().GetHandle("MESSAGE")); !ok || string(v) != "login failed" {
		t.Fatalf("round trip MESSAGE = %q,%v", v, ok)
	}
}

// encodeTransitionalV12 hand-builds a version-12 byte stream: 64-bit
// timestamps and 32-bit flags already match the current layout, but
// values are a flat name/value list instead of an NVTable blob.
func encodeTransitionalV12(rcptid uint64, flags uint32, pri uint16, saddr string, values map[string]string) []byte {
	w := NewWriter()
	w.PutU8(12)
	w.PutU64(rcptid)
	w.PutU32(flags)
	w.PutU16(pri)
	w.PutCString(saddr)
	putStamp(w, logmsg.Stamp{Sec: 1700000000})
	putStamp(w, logmsg.Stamp{Sec: 1700000001})
	w.PutCString("")
	w.PutU8(0) // initial_parse
	w.PutU8(0) // num_matches placeholder, recomputed on decode
	w.PutU16(uint16(len(values)))
	for name, value := range values {
		w.PutCString(name)
		w.PutBytes([]byte(value))
	}
	return w.Bytes()
}

func TestUnmarshalTransitionalV12(t *testing.T) {
	data := encodeTransitionalV12(9, 0, 134, "192.0.2.10", map[string]string{
		"HOST": "box2",
		"MESSAGE": "disk full",
		"$0": "match0",
	})
	got, err := Unmarshal(registry.New(), data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Rcptid() != 9 {
		t.Fatalf("Rcptid = %d, want 9", got.Rcptid())
	}
	if got.NumMatches() != 1 {
		t.Fatalf("NumMatches = %d, want 1 (recomputed from $0)", got.NumMatches())
	}
	if v, ok := got.Payload().GetValue(got.Registry().GetHandle("MESSAGE")); !ok || string(v) != "disk full" {
		t.Fatalf("MESSAGE = %q,%v", v, ok)
	}

	reData := Marshal(got)
	again, err := Unmarshal(registry.New(), reData)
	if err != nil {
		t.Fatalf("re-Unmarshal: %v", err)
	}
	if again.NumMatches() != 1 {
		t.Fatalf("round trip NumMatches = %d, want 1", again.NumMatches())
	}
}

func TestMarshalUnmarshalPreservesSData(t *testing.T) {
	reg := registry.New()
	m := logmsg.NewEmpty(reg)
	h := reg.AllocHandle(".SDATA.meta.sequenceId")
	reg.SetHandleFlags(h, registry.FlagSDATA)
	m.SetValue(h, []byte("7"))

	data := Marshal(m)
	destReg := registry.New()
	got, err := Unmarshal(destReg, data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if sd := got.FormatSData(); sd != `[meta sequenceId="7"]` {
		t.Fatalf("FormatSData after round trip = %q", sd)
	}
}
