package refcache

import (
	"testing"

	"github.com/axoflow/corelogd/internal/corelog/errs"
	"github.com/axoflow/corelogd/internal/logmsg"
)

func TestProducerModeBiasesThenFlushesToOne(t *testing.T) {
	m := logmsg.NewEmpty(nil)
	// NewEmpty already starts ref=1,ack=0; simulate a source that treats
	// the message as freshly produced by working from that baseline.
	var c Cache
	if err := c.Start(m, Producer, true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ref, ack := m.RefAck(); ref != 1+Bias || ack != Bias {
		t.Fatalf("post-bias RefAck = %d,%d", ref, ack)
	}
	c.AddAck() // one flow-controlled path holds the message
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ref, ack := m.RefAck()
	if ref != 1 || ack != 1 {
		t.Fatalf("RefAck after flush = %d,%d want 1,1", ref, ack)
	}
}

func TestConsumerModeNoBias(t *testing.T) {
	m := logmsg.NewEmpty(nil)
	m.AddAck()
	var c Cache
	if err := c.Start(m, Consumer, true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Ack()
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	_, ack := m.RefAck()
	if ack != 0 {
		t.Fatalf("ack after consumer flush = %d, want 0", ack)
	}
}

func TestNestedStartRejected(t *testing.T) {
	m1 := logmsg.NewEmpty(nil)
	m2 := logmsg.NewEmpty(nil)
	var c Cache
	c.Start(m1, Consumer, false)
	if err := c.Start(m2, Consumer, false); !errs.Is(err, errs.KindState) {
		t.Fatalf("expected KindState error on nested Start, got %v", err)
	}
	c.Stop()
}

func TestStopWithoutStartRejected(t *testing.T) {
	var c Cache
	if err := c.Stop(); !errs.Is(err, errs.KindState) {
		t.Fatalf("expected KindState error on Stop without Start, got %v", err)
	}
}

func TestAckNotNeededIgnoresAddAckAndAck(t *testing.T) {
	m := logmsg.NewEmpty(nil)
	var c Cache
	c.Start(m, Consumer, false)
	c.AddAck()
	c.Ack()
	c.Stop()
	_, ack := m.RefAck()
	if ack != 0 {
		t.Fatalf("ack changed despite ackNeeded=false: %d", ack)
	}
}

func TestFlushFreesMessageWhenRefReachesZero(t *testing.T) {
	m := logmsg.NewEmpty(nil)
	var c Cache
	c.Start(m, Consumer, false)
	c.Unref()
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ref, _ := m.RefAck()
	if ref != 0 {
		t.Fatalf("ref after flush = %d, want 0", ref)
	}
}
