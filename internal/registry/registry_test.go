package registry

import "testing"

func TestBuiltinHandlesStable(t *testing.T) {
	r := New()
	if h := r.GetHandle("MESSAGE"); h != Message {
		t.Fatalf("GetHandle(MESSAGE) = %d, want %d", h, Message)
	}
	name, n := r.GetHandleName(Host)
	if name != "HOST" || n != 4 {
		t.Fatalf("GetHandleName(Host) = %q,%d, want HOST,4", name, n)
	}
}

func TestAllocHandleIsIdempotent(t *testing.T) {
	r := New()
	h1 := r.AllocHandle("SEVERITY")
	h2 := r.AllocHandle("SEVERITY")
	if h1 != h2 {
		t.Fatalf("AllocHandle not idempotent: %d != %d", h1, h2)
	}
	if h1 < Handle(NumBuiltin()) {
		t.Fatalf("dynamic handle %d collides with builtin range", h1)
	}
}

func TestAllocHandleRejectsBadNames(t *testing.T) {
	r := New()
	if h := r.AllocHandle(""); h != None {
		t.Fatalf("empty name should return None, got %d", h)
	}
	long := make([]byte, MaxNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if h := r.AllocHandle(string(long)); h != None {
		t.Fatalf("over-length name should return None, got %d", h)
	}
	name, n := r.GetHandleName(None)
	if name != "None" || n != 0 {
		t.Fatalf("None handle should map to sentinel name, got %q,%d", name, n)
	}
}

func TestSetHandleFlagsIsVisibleLockFree(t *testing.T) {
	r := New()
	h := r.AllocHandle(".SDATA.meta.sequenceId")
	r.SetHandleFlags(h, FlagSDATA)
	if r.GetHandleFlags(h)&FlagSDATA == 0 {
		t.Fatalf("expected FlagSDATA set")
	}
	if got := r.IDLength(h); got != uint8(len(".SDATA.meta")) {
		t.Fatalf("IDLength = %d, want %d", got, len(".SDATA.meta"))
	}
}

func TestAddAlias(t *testing.T) {
	r := New()
	h := r.AllocHandle("PROGRAM2")
	r.AddAlias(h, "PROG2_ALIAS")
	if got := r.GetHandle("PROG2_ALIAS"); got != h {
		t.Fatalf("alias did not resolve to original handle: %d != %d", got, h)
	}
}

func TestSnapshotIncludesBuiltins(t *testing.T) {
	r := New()
	r.AllocHandle("EXTRA")
	snap := r.Snapshot()
	if len(snap) < NumBuiltin()+1 {
		t.Fatalf("snapshot too short: %d entries", len(snap))
	}
}
