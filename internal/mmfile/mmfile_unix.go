//go:build unix

// Package mmfile memory-maps the fixed header region of a qdisk file so
// that cursor updates are visible to other readers of the same file
// without a syscall per update (spec: "memory-mapped header").
package mmfile

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Map maps the first size bytes of f into memory. When writable is true the
// mapping is PROT_READ|PROT_WRITE over MAP_SHARED, so stores through the
// returned slice are visible to any other process with the same file mapped
// (and are picked up by a reader that re-reads the slice, not just by one
// that re-opens the file). When writable is false the mapping is read-only.
func Map(f *os.File, size int, writable bool) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, fmt.Errorf("mmfile: invalid map size %d", size)
	}
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmfile: mmap: %w", err)
	}
	_ = unix.Madvise(data, unix.MADV_RANDOM)
	cleanup := func() error {
		if data == nil {
			return nil
		}
		err := unix.Munmap(data)
		data = nil
		return err
	}
	return data, cleanup, nil
}

// Sync flushes dirty pages of a mapping created by Map back to the file.
// Callers rely on this before relying on the header surviving a crash; it
// does not itself fsync the underlying device.
func Sync(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Msync(data, unix.MS_SYNC)
}
