// Package errs defines the typed error categories surfaced by the message
// core (registry, nvtable, logmsg, qdisk, logqueue, driver), so callers can
// branch on intent instead of matching error text.
package errs

import "fmt"

// Kind classifies an error into one of a small set of categories a caller
// can branch on without string-matching the message.
type Kind int

const (
	// KindExhausted: NVTable allocation exhaustion (§4.2, §7).
	KindExhausted Kind = iota
	// KindFull: a queue push found no room: the qdisk ring is full, or, for
	// a logqueue.Queue, every tier it tries (disk, flow-control window,
	// overflow) is at capacity (§4.7, §7).
	KindFull
	// KindIO: a short write, ENOSPC, or failed preallocation (§4.6, §7).
	KindIO
	// KindCorrupt: an implausible record length, bad magic, or inconsistent
	// cursor caused the queue file to be condemned (§4.6, §7).
	KindCorrupt
	// KindVersion: a serialization version outside the supported set (§4.5, §7).
	KindVersion
	// KindState: caller misuse of a stateful API (nested ref-cache start,
	// stop without a start, rewinding more records than the backlog holds).
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindExhausted:
		return "exhausted"
	case KindFull:
		return "full"
	case KindIO:
		return "io"
	case KindCorrupt:
		return "corrupt"
	case KindVersion:
		return "version"
	case KindState:
		return "state"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a typed error with an optional underlying cause.
type Error struct {
	Kind Kind
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Is reports whether err is an *Error of the given kind (checking the whole
// Unwrap chain, matching errors.Is semantics for this package's own type).
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.Err
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Sentinels used across the core.
var (
	ErrQueueFull = New(KindFull, "queue is full")
	ErrCorrupt = New(KindCorrupt, "qdisk file is corrupt")
	ErrUnsupportedV = New(KindVersion, "unsupported serialization version")
	ErrExhausted = New(KindExhausted, "nvtable allocation exhausted")
	ErrNestedStart = New(KindState, "ref cache already has a current message")
	ErrNotStarted = New(KindState, "ref cache has no current message")
	ErrRewindTooMany = New(KindState, "rewind_backlog: n exceeds backlog_len")
)
