package logmsg

import (
	"testing"

	"github.com/axoflow/corelogd/internal/registry"
)

func TestNewEmptyStartsAtRefOneAckZero(t *testing.T) {
	m := NewEmpty(nil)
	ref, ack := m.RefAck()
	if ref != 1 || ack != 0 {
		t.Fatalf("RefAck = %d,%d want 1,0", ref, ack)
	}
}

func TestRefUnrefBalances(t *testing.T) {
	m := NewEmpty(nil)
	m.Ref()
	m.Ref()
	ref, _ := m.RefAck()
	if ref != 3 {
		t.Fatalf("ref = %d, want 3", ref)
	}
	m.Unref()
	m.Unref()
	ref, _ = m.RefAck()
	if ref != 1 {
		t.Fatalf("ref = %d, want 1", ref)
	}
}

func TestAckFiresOnceAtZero(t *testing.T) {
	m := NewEmpty(nil)
	fired := 0
	m.SetAckFunc(func(m *LogMessage, userdata any) { fired++ }, nil)
	m.AddAck()
	m.AddAck()
	m.Ack()
	if fired != 0 {
		t.Fatalf("ack fired early: %d", fired)
	}
	m.Ack()
	if fired != 1 {
		t.Fatalf("ack fired %d times, want 1", fired)
	}
}

func TestCloneAckForwardsToOriginal(t *testing.T) {
	reg := registry.New()
	m := NewEmpty(reg)
	fired := 0
	m.SetAckFunc(func(m *LogMessage, userdata any) { fired++ }, nil)

	clone := m.CloneCOW(true) // bumps m's ack to 1, clone's own ack to 1
	if _, ack := m.RefAck(); ack != 1 {
		t.Fatalf("original ack = %d, want 1 after ack-needed clone", ack)
	}
	clone.Ack() // clone's own ack 1 -> 0, fires clone's forwarding callback
	if fired != 1 {
		t.Fatalf("ack did not fire through clone forwarding: %d", fired)
	}
	if _, ack := m.RefAck(); ack != 0 {
		t.Fatalf("original ack = %d, want 0 after clone forwarded", ack)
	}
}

func TestCloneChainStaysFlat(t *testing.T) {
	m := NewEmpty(nil)
	c1 := m.CloneCOW(false)
	c2 := c1.CloneCOW(false)
	if c2.Original() != m {
		t.Fatalf("clone of a clone must point at the root, got %v want %v", c2.Original(), m)
	}
}

func TestStateFlagsClearedOnCloneSemanticSurvive(t *testing.T) {
	m := NewEmpty(nil)
	m.SetSemantic(Local, true)
	clone := m.CloneCOW(false)
	if clone.HasState(OwnPayload) {
		t.Fatalf("clone should not start owning payload")
	}
	if !clone.HasSemantic(Local) {
		t.Fatalf("semantic flags must survive clone")
	}
}
