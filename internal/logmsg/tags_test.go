package logmsg

import "testing"

func TestSetClearIsTag(t *testing.T) {
	m := NewEmpty(nil)
	if m.IsTagSet("suspicious") {
		t.Fatalf("tag should not be set on a fresh message")
	}
	m.SetTag("suspicious")
	if !m.IsTagSet("suspicious") {
		t.Fatalf("tag not set after SetTag")
	}
	m.ClearTag("suspicious")
	if m.IsTagSet("suspicious") {
		t.Fatalf("tag still set after ClearTag")
	}
}

func TestTagsSpillPastInlineWidth(t *testing.T) {
	m := NewEmpty(nil)
	for i := 0; i < 80; i++ {
		m.SetTag(tagName(i))
	}
	for i := 0; i < 80; i++ {
		if !m.IsTagSet(tagName(i)) {
			t.Fatalf("tag %d lost after spilling past inline width", i)
		}
	}
	if m.tags.spilled == nil {
		t.Fatalf("expected tag store to have spilled past 64 tags")
	}
}

func TestCloneSharesTagsUntilOwnWrite(t *testing.T) {
	m := NewEmpty(nil)
	m.SetTag("a")
	clone := m.CloneCOW(false)
	if !clone.IsTagSet("a") {
		t.Fatalf("clone should see original's tags")
	}
	clone.SetTag("b")
	if m.IsTagSet("b") {
		t.Fatalf("writing a clone's tag must not affect the original")
	}
}

func tagName(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return string(letters[i%26]) + string(rune('0'+i/26))
}
