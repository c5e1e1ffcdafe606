package nvtable

import (
	"bytes"
	"testing"

	"github.com/axoflow/corelogd/internal/registry"
)

func TestAddAndGetValueDirect(t *testing.T) {
	tbl := New(8, 4, 64)
	h := registry.Handle(9)
	ok, isNew := tbl.AddValue(h, "custom", []byte("hello"))
	if !ok || !isNew {
		t.Fatalf("AddValue = %v,%v want true,true", ok, isNew)
	}
	val, present := tbl.GetValue(h)
	if !present || string(val) != "hello" {
		t.Fatalf("GetValue = %q,%v want hello,true", val, present)
	}
}

func TestAddValueOverwriteInPlace(t *testing.T) {
	tbl := New(8, 4, 64)
	h := registry.Handle(9)
	tbl.AddValue(h, "custom", []byte("aaaaaaaaaa"))
	off1, _ := tbl.offsetOf(h)
	ok, isNew := tbl.AddValue(h, "custom", []byte("short"))
	if !ok || isNew {
		t.Fatalf("second AddValue = %v,%v want true,false", ok, isNew)
	}
	off2, _ := tbl.offsetOf(h)
	if off1 != off2 {
		t.Fatalf("expected in-place overwrite, offset moved %d -> %d", off1, off2)
	}
	val, _ := tbl.GetValue(h)
	if string(val) != "short" {
		t.Fatalf("GetValue after overwrite = %q", val)
	}
}

func TestAddValueStaticSlot(t *testing.T) {
	tbl := New(8, 0, 64)
	ok, isNew := tbl.AddValue(registry.Host, "HOST", []byte("box1"))
	if !ok || !isNew {
		t.Fatalf("AddValue(HOST) = %v,%v", ok, isNew)
	}
	val, _ := tbl.GetValue(registry.Host)
	if string(val) != "box1" {
		t.Fatalf("GetValue(HOST) = %q", val)
	}
}

func TestAddValueIndirectAndResolution(t *testing.T) {
	tbl := New(8, 4, 128)
	base := registry.Handle(9)
	tbl.AddValue(base, "MESSAGE", []byte("foo=bar baz=qux"))

	ref := registry.Handle(10)
	ok, _ := tbl.AddValueIndirect(ref, "$1", base, TypeString, 4, 3)
	if !ok {
		t.Fatalf("AddValueIndirect failed")
	}
	val, present := tbl.GetValue(ref)
	if !present || string(val) != "bar" {
		t.Fatalf("GetValue(indirect) = %q,%v want bar,true", val, present)
	}
}

func TestRewritingReferencedEntryResolvesIndirects(t *testing.T) {
	tbl := New(8, 4, 256)
	base := registry.Handle(9)
	tbl.AddValue(base, "MESSAGE", []byte("foo=bar baz=qux"))
	ref := registry.Handle(10)
	tbl.AddValueIndirect(ref, "$1", base, TypeString, 4, 3)

	// Rewriting base must first resolve ref to a direct copy of "bar".
	tbl.AddValue(base, "MESSAGE", []byte("completely different now"))

	val, present := tbl.GetValue(ref)
	if !present || string(val) != "bar" {
		t.Fatalf("indirect value changed after base rewrite: %q,%v want bar,true", val, present)
	}
}

func TestValueTruncatedAtMax(t *testing.T) {
	tbl := New(8, 4, MaxValueLen+4096)
	big := bytes.Repeat([]byte("x"), MaxValueLen+1)
	tbl.AddValue(registry.Handle(9), "BIG", big)
	val, _ := tbl.GetValue(registry.Handle(9))
	if len(val) != MaxValueLen {
		t.Fatalf("value not truncated: len=%d want %d", len(val), MaxValueLen)
	}
}

func TestForeachOrdersBuiltinsFirstThenDynamicByHandle(t *testing.T) {
	tbl := New(8, 4, 256)
	tbl.AddValue(registry.Handle(12), "z", []byte("1"))
	tbl.AddValue(registry.Handle(10), "y", []byte("2"))
	tbl.AddValue(registry.Program, "PROGRAM", []byte("sshd"))
	tbl.AddValue(registry.Host, "HOST", []byte("box1"))

	var order []registry.Handle
	tbl.Foreach(func(h registry.Handle, name string, value []byte, indirect bool) {
		order = append(order, h)
	})
	want := []registry.Handle{registry.Host, registry.Program, 10, 12}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %d, want %d (%v)", i, order[i], want[i], order)
		}
	}
}

func TestCloneLeavesSourceByteIdentical(t *testing.T) {
	tbl := New(8, 4, 256)
	tbl.AddValue(registry.Handle(9), "custom", []byte("original"))

	before := make([]byte, len(tbl.Bytes()))
	copy(before, tbl.Bytes())

	clone := tbl.Clone(0)
	clone.AddValue(registry.Handle(9), "custom", []byte("mutated"))

	if !bytes.Equal(before, tbl.Bytes()) {
		t.Fatalf("source table mutated after modifying clone")
	}
	val, _ := tbl.GetValue(registry.Handle(9))
	if string(val) != "original" {
		t.Fatalf("source value changed: %q", val)
	}
	cval, _ := clone.GetValue(registry.Handle(9))
	if string(cval) != "mutated" {
		t.Fatalf("clone value = %q, want mutated", cval)
	}
}

func TestReallocGrowsInPlaceWhenUnshared(t *testing.T) {
	tbl := New(8, 2, 32)
	for i := 0; i < 3; i++ {
		tbl.AddValue(registry.Handle(9+i), "name", bytes.Repeat([]byte("v"), 40))
	}
	grown := tbl.Realloc()
	if grown != tbl {
		t.Fatalf("Realloc with refcount==1 should grow in place (same pointer)")
	}
	val, present := tbl.GetValue(registry.Handle(9))
	if !present || len(val) != 40 {
		t.Fatalf("value lost after realloc: %q,%v", val, present)
	}
}

func TestReallocClonesWhenShared(t *testing.T) {
	tbl := New(8, 2, 32)
	tbl.AddValue(registry.Handle(9), "name", []byte("v"))
	tbl.Ref() // simulate a second owner
	grown := tbl.Realloc()
	if grown == tbl {
		t.Fatalf("Realloc with refcount>1 should allocate a new table")
	}
	val, present := grown.GetValue(registry.Handle(9))
	if !present || string(val) != "v" {
		t.Fatalf("value lost after shared realloc: %q,%v", val, present)
	}
}

func TestBorrowedTableNeverReportsFreed(t *testing.T) {
	buf := make([]byte, 512)
	tbl, err := InitBorrowed(buf, 8)
	if err != nil {
		t.Fatalf("InitBorrowed: %v", err)
	}
	if freed := tbl.Unref(); freed {
		t.Fatalf("borrowed table must never report freed")
	}
}
