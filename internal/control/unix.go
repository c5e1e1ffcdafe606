package control

import (
	"errors"
	"net"
	"os"
)

// removeStaleSocket removes path if it exists and is a socket with nothing
// listening on it, so a previous unclean shutdown doesn't block a fresh
// bind.
func removeStaleSocket(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return nil
	}
	conn, dialErr := net.Dial("unix", path)
	if dialErr == nil {
		conn.Close()
		return errors.New("control: socket already in use")
	}
	return os.Remove(path)
}
