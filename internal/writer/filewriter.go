// Package writer exposes sinks that commit a whole file image at once;
// internal/driver.PersistStore saves its persist-state file through one.
package writer

import (
	"fmt"
	"os"
	"path/filepath"
)

// Sink accepts a fully-formed file image and commits it.
type Sink interface {
	WriteFile(buf []byte) error
}

// FileWriter writes a file image to a filesystem path atomically via a
// temp file in the same directory followed by rename, so a crash never
// leaves a partially-written file at Path.
type FileWriter struct {
	Path string
	Mode os.FileMode // defaults to 0600
}

// WriteFile writes buf to the configured path atomically via temp file + rename.
func (w *FileWriter) WriteFile(buf []byte) error {
	mode := w.Mode
	if mode == 0 {
		mode = 0o600
	}
	dir := filepath.Dir(w.Path)
	tmpFile, err := os.CreateTemp(dir, ".corelogd-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmpFile.Write(buf); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpPath, w.Path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
