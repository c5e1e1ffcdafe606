package nvtable

import "sync"

// Pool is a sync.Pool of MinAlloc-byte buffers sized for a borrowed NVTable
// area (see InitBorrowed). No code in this module draws from it:
// LogMessage allocates its table with New and copies it with Clone.
var Pool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, MinAlloc)
		return &buf
	},
}

// Get returns a zeroed buffer of at least MinAlloc bytes.
func Get() *[]byte {
	buf := Pool.Get().(*[]byte)
	for i := range *buf {
		(*buf)[i] = 0
	}
	return buf
}

// Put returns buf to the pool. Buffers grown beyond 64 KiB are not pooled,
// to avoid pinning memory used by one unusually large message.
func Put(buf *[]byte) {
	if buf == nil || cap(*buf) > 64*1024 {
		return
	}
	*buf = (*buf)[:cap(*buf)]
	Pool.Put(buf)
}
