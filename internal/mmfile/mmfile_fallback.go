//go:build !unix

package mmfile

import (
	"fmt"
	"io"
	"os"
)

// Map is the non-unix fallback: it reads size bytes into a private buffer
// rather than truly mapping the file. Writes through the returned slice are
// never observed by another process; they are pushed back with a WriteAt
// only when the returned cleanup function runs (Sync does nothing here), and
// only one mapping of a given file should be writable at a time on this
// platform.
func Map(f *os.File, size int, writable bool) ([]byte, func() error, error) {
	if size <= 0 {
		return nil, nil, fmt.Errorf("mmfile: invalid map size %d", size)
	}
	data := make([]byte, size)
	if _, err := f.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, nil, err
	}
	if !writable {
		return data, func() error { return nil }, nil
	}
	cleanup := func() error {
		_, err := f.WriteAt(data, 0)
		return err
	}
	return data, cleanup, nil
}

// Sync is a no-op on this platform: the fallback Map keeps a private copy
// and only writes it back when the cleanup function from Map runs.
func Sync(data []byte) error {
	return nil
}
