package logmsg

import (
	"sort"
	"strconv"
	"strings"

	"github.com/axoflow/corelogd/internal/registry"
)

// addSData records h (a handle whose name carries FlagSDATA) in the
// message's structured-data index, keeping the index sorted by name so
// that every parameter of one SD element ends up contiguous.
func (m *LogMessage) addSData(h registry.Handle) {
	m.ensureOwnSData()
	name, _ := m.reg.GetHandleName(h)
	idx := sort.Search(len(m.sdata), func(i int) bool {
		iname, _ := m.reg.GetHandleName(m.sdata[i])
		return iname >= name
	})
	if idx < len(m.sdata) && m.sdata[idx] == h {
		return
	}
	m.sdata = append(m.sdata, 0)
	copy(m.sdata[idx+1:], m.sdata[idx:])
	m.sdata[idx] = h
}

func (m *LogMessage) ensureOwnSData() {
	if m.HasState(OwnSData) {
		return
	}
	cp := make([]registry.Handle, len(m.sdata))
	copy(cp, m.sdata)
	m.sdata = cp
	m.setState(OwnSData, true)
}

// sdataElement splits a ".SDATA.<element>.<param>" name into its element
// (with the leading ".SDATA." stripped) and parameter, using the
// registry's precomputed id-length as the split point.
func (m *LogMessage) sdataElement(h registry.Handle) (element, param string) {
	name, _ := m.reg.GetHandleName(h)
	idLen := int(m.reg.IDLength(h))
	if idLen <= 0 || idLen >= len(name) {
		return "", name
	}
	element = strings.TrimPrefix(name[:idLen], ".SDATA.")
	param = name[idLen+1:]
	return element, param
}

type sdKV struct{ param, value string }

type sdElement struct {
	name string
	params []sdKV
}

// FormatSData renders the message's structured-data index with no
// sequence-id synthesis (equivalent to FormatSDataSeq(0)).
func (m *LogMessage) FormatSData() string { return m.FormatSDataSeq(0) }

// FormatSDataSeq renders the message's structured-data index as RFC 5424
// bracketed structured data, e.g. `[meta sequenceId="7"][exampleSDID@32473
// iut="3"]`. Elements with no params are skipped. A message with an empty
// index and seqNum == 0 renders as "-", the RFC 5424 NILVALUE.
//
// When seqNum != 0: if a "meta" element is present but has no
// "sequenceId" param, one is appended to it; if no "meta" element is
// present at all, a synthetic "[meta sequenceId="…"]" block is appended.
func (m *LogMessage) FormatSDataSeq(seqNum uint64) string {
	elements := make([]sdElement, 0, 4)
	byName := make(map[string]int, 4)
	for _, h := range m.sdata {
		element, param := m.sdataElement(h)
		if element == "" {
			continue
		}
		val, _ := m.payload.GetValue(h)
		idx, ok := byName[element]
		if !ok {
			idx = len(elements)
			elements = append(elements, sdElement{name: element})
			byName[element] = idx
		}
		elements[idx].params = append(elements[idx].params, sdKV{param: param, value: string(val)})
	}

	if seqNum != 0 {
		if idx, ok := byName["meta"]; ok {
			hasSeq := false
			for _, kv := range elements[idx].params {
				if kv.param == "sequenceId" {
					hasSeq = true
					break
				}
			}
			if !hasSeq {
				elements[idx].params = append(elements[idx].params, sdKV{param: "sequenceId", value: strconv.FormatUint(seqNum, 10)})
			}
		} else {
			elements = append(elements, sdElement{name: "meta", params: []sdKV{{param: "sequenceId", value: strconv.FormatUint(seqNum, 10)}}})
		}
	}

	if len(elements) == 0 {
		return "-"
	}
	var b strings.Builder
	for _, el := range elements {
		if len(el.params) == 0 {
			continue
		}
		b.WriteByte('[')
		b.WriteString(el.name)
		for _, kv := range el.params {
			b.WriteByte(' ')
			b.WriteString(kv.param)
			b.WriteString(`="`)
			b.WriteString(escapeSDParam([]byte(kv.value)))
			b.WriteByte('"')
		}
		b.WriteByte(']')
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}

func escapeSDParam(val []byte) string {
	var b strings.Builder
	for _, c := range val {
		switch c {
		case '"', '\\', ']':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
