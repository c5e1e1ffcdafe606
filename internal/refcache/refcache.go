// Package refcache implements the per-goroutine ref/ack batching layer
// over LogMessage's combined atomic counter. Go has no thread-local
// storage; a Cache plays that role explicitly — one value owned by a
// single worker goroutine for the duration of one message, driven through
// an explicit Start/Stop window rather than an implicit per-goroutine
// global.
package refcache

import (
	"github.com/axoflow/corelogd/internal/corelog/errs"
	"github.com/axoflow/corelogd/internal/logmsg"
)

// Bias is added to both counters in Producer mode so that consumers
// dropping refs before the producer flushes can never drive the atomic to
// zero out from under it.
const Bias = 0x4000

// Mode selects how a Cache seeds its deltas at Start.
type Mode int

const (
	// Producer seeds both cached deltas at -Bias after biasing the atomic
	// counter by +Bias, for the thread that just created the message.
	Producer Mode = iota
	// Consumer seeds both cached deltas at zero; no bias is applied.
	Consumer
)

// Cache batches ref/ack updates for one message across one goroutine's
// processing window. Zero value is ready to use.
type Cache struct {
	msg *logmsg.LogMessage
	refDelta int32
	ackDelta int32
	ackNeeded bool
	active bool
}

// Start begins a batching window for msg. ackNeeded records whether this
// path participates in flow control; AddAck/Ack are no-ops otherwise.
// Starting on a second message before Stop-ing the first is forbidden.
func (c *Cache) Start(msg *logmsg.LogMessage, mode Mode, ackNeeded bool) error {
	if c.active {
		return errs.ErrNestedStart
	}
	c.msg = msg
	c.ackNeeded = ackNeeded
	c.active = true
	if mode == Producer {
		msg.AddBias(Bias, Bias)
		c.refDelta = -Bias
		c.ackDelta = -Bias
		return nil
	}
	c.refDelta = 0
	c.ackDelta = 0
	return nil
}

// Ref records a pending reference increment against the cached delta.
func (c *Cache) Ref() { c.refDelta++ }

// Unref records a pending reference decrement against the cached delta.
func (c *Cache) Unref() { c.refDelta-- }

// AddAck records a pending ack increment, if this path needs acks.
func (c *Cache) AddAck() {
	if c.ackNeeded {
		c.ackDelta++
	}
}

// Ack records a pending ack decrement, if this path needs acks.
func (c *Cache) Ack() {
	if c.ackNeeded {
		c.ackDelta--
	}
}

// Stop flushes the cached deltas to the atomic counter in a single CAS and
// clears the window. It panics if the cached deltas violate -Bias <= delta
// < Bias-1, since that indicates a logic bug in
// the caller, not a recoverable runtime condition.
func (c *Cache) Stop() error {
	if !c.active {
		return errs.ErrNotStarted
	}
	if c.refDelta < -Bias || c.refDelta >= Bias-1 {
		panic("refcache: ref delta out of bounds at Stop")
	}
	if c.ackDelta < -Bias || c.ackDelta >= Bias-1 {
		panic("refcache: ack delta out of bounds at Stop")
	}
	c.msg.Flush(c.refDelta, c.ackDelta)
	c.msg = nil
	c.refDelta = 0
	c.ackDelta = 0
	c.ackNeeded = false
	c.active = false
	return nil
}

// Active reports whether the cache currently has a message checked out.
func (c *Cache) Active() bool { return c.active }
