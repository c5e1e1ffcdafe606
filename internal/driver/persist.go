package driver

import (
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/axoflow/corelogd/internal/corelog/errs"
	"github.com/axoflow/corelogd/internal/writer"
)

// persistState is the on-disk shape of the persist-state file: one string
// entry per queue name holding the on-disk filename the queue was last
// bound to, so a restart reopens the same file instead of generating a
// fresh one.
type persistState struct {
	Queues map[string]string `yaml:"queues"`
}

// PersistStore is a keyed name -> filename store, YAML-encoded at path,
// written atomically through a writer.Sink (internal/writer.FileWriter by
// default; tests that exercise Driver.Acquire without touching the
// filesystem swap in an internal/writer.MemWriter instead).
type PersistStore struct {
	mu sync.Mutex
	path string
	sink writer.Sink
	state persistState
}

// LoadPersistStore reads path if it exists, or starts empty.
func LoadPersistStore(path string) (*PersistStore, error) {
	p := &PersistStore{path: path, sink: &writer.FileWriter{Path: path}, state: persistState{Queues: map[string]string{}}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, errs.Wrap(errs.KindIO, "driver: read persist-state", err)
	}
	if err := yaml.Unmarshal(data, &p.state); err != nil {
		return nil, errs.Wrap(errs.KindCorrupt, "driver: decode persist-state", err)
	}
	if p.state.Queues == nil {
		p.state.Queues = map[string]string{}
	}
	return p, nil
}

// Get returns the persisted filename for name, if any.
func (p *PersistStore) Get(name string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn, ok := p.state.Queues[name]
	return fn, ok
}

// Set records filename as name's binding and flushes the store to disk.
func (p *PersistStore) Set(name, filename string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Queues[name] = filename
	return p.flushLocked()
}

// Delete removes name's binding (queue emptied and released for good).
func (p *PersistStore) Delete(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.state.Queues, name)
	return p.flushLocked()
}

func (p *PersistStore) flushLocked() error {
	data, err := yaml.Marshal(&p.state)
	if err != nil {
		return errs.Wrap(errs.KindIO, "driver: encode persist-state", err)
	}
	if err := p.sink.WriteFile(data); err != nil {
		return errs.Wrap(errs.KindIO, "driver: write persist-state", err)
	}
	return nil
}
