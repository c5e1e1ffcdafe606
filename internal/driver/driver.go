// Package driver implements the acquire/release binding between a queue
// name and its backing logqueue.Queue: persisting the chosen filename
// across restarts, generating a fresh unique filename when none is
// persisted, and holding released queues for a subsequent configuration
// reload to reclaim without a full restart.
package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/axoflow/corelogd/internal/corelog/errs"
	"github.com/axoflow/corelogd/internal/corelog/log"
	"github.com/axoflow/corelogd/internal/logqueue"
)

const dirlockName = "syslog-ng-disk-buffer.dirlock"

// AcquireOptions configures a newly-created (as opposed to reopened) queue
// file.
type AcquireOptions struct {
	Queue logqueue.Options
}

// Driver binds queue names to on-disk files under one directory, backed by
// a YAML persist-state file.
type Driver struct {
	mu sync.Mutex
	dir string
	persist *PersistStore
	held map[string]*logqueue.Queue // released queues awaiting reload pickup (cfg_persist_config_add analog)
	dirlockPath string
	dirlockHeld bool
}

// Open acquires the queue directory: creates it if missing, takes the
// dirlock (refusing to start if another process already holds it), and
// loads the persist-state file at <dir>/queues.state.yaml.
func Open(dir string) (*Driver, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errs.Wrap(errs.KindIO, "driver: create queue directory", err)
	}
	d := &Driver{dir: dir, held: map[string]*logqueue.Queue{}, dirlockPath: filepath.Join(dir, dirlockName)}

	f, err := os.OpenFile(d.dirlockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, errs.Wrap(errs.KindState, "driver: directory already locked by another daemon", err)
		}
		return nil, errs.Wrap(errs.KindIO, "driver: create dirlock", err)
	}
	f.Close()
	d.dirlockHeld = true

	persist, err := LoadPersistStore(filepath.Join(dir, "queues.state.yaml"))
	if err != nil {
		return nil, err
	}
	d.persist = persist
	return d, nil
}

// Close releases the dirlock. It does not close any still-acquired or
// held queues; callers are expected to Release every queue first.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dirlockHeld {
		return nil
	}
	d.dirlockHeld = false
	if err := os.Remove(d.dirlockPath); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindIO, "driver: remove dirlock", err)
	}
	return nil
}

// Acquire returns the queue bound to name: a queue released earlier in
// this process (still sitting in the reload holding area), the file
// recorded for name in persist-state if it loads cleanly, or — failing
// both — a freshly created file with a newly generated unique name.
func (d *Driver) Acquire(name string, opts AcquireOptions) (*logqueue.Queue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.held[name]; ok {
		delete(d.held, name)
		return q, nil
	}

	if filename, ok := d.persist.Get(name); ok {
		path := filepath.Join(d.dir, filename)
		if q, err := logqueue.Open(name, path, opts.Queue); err == nil {
			return q, nil
		} else {
			log.Warn("driver: persisted queue file failed to load, generating a new one", "name", name, "path", path, "err", err)
		}
	}

	filename, err := d.generateFilename(opts.Queue.Disk.Reliable)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(d.dir, filename)
	q, err := logqueue.Open(name, path, opts.Queue)
	if err != nil {
		return nil, err
	}
	if err := d.persist.Set(name, filename); err != nil {
		return nil, err
	}
	return q, nil
}

// Release writes q's current filename back to persist-state and hands it
// to the reload holding area, so the next Acquire for the same name in
// this process (a config reload, not a restart) gets the same open file
// instead of reopening from disk.
func (d *Driver) Release(name string, q *logqueue.Queue) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.persist.Set(name, filepath.Base(q.GetFilename())); err != nil {
		return err
	}
	d.held[name] = q
	return nil
}

// Drop closes q and forgets name entirely: used once a queue is emptied
// and the owning driver explicitly releases it for good.
func (d *Driver) Drop(name string, q *logqueue.Queue) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.held, name)
	if err := q.Close(); err != nil {
		return err
	}
	if err := os.Remove(q.GetFilename()); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindIO, "driver: remove queue file", err)
	}
	return d.persist.Delete(name)
}

// generateFilename picks the first unused "syslog-ng-NNNNN.qf" (or ".rqf"
// for a reliable queue) name in d.dir, the way qdisk.Quarantine probes for
// the first free ".corrupted[-N]" sibling.
func (d *Driver) generateFilename(reliable bool) (string, error) {
	ext := ".qf"
	if reliable {
		ext = ".rqf"
	}
	for n := 0; n < 100000; n++ {
		name := fmt.Sprintf("syslog-ng-%05d%s", n, ext)
		if _, err := os.Stat(filepath.Join(d.dir, name)); os.IsNotExist(err) {
			return name, nil
		}
	}
	return "", errs.Wrap(errs.KindState, "driver: no free queue filename", nil)
}
