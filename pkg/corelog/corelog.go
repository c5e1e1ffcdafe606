// Package corelog is the public facade over the message pipeline and
// durable queue core: construct LogMessage instances, push/pop them
// through a named disk queue, and serialize them through the wire
// archive.
//
// Every exported function delegates straight into internal/* rather than
// duplicating logic, so this package stays a thin entry point a caller can
// depend on without ever importing internal/* directly.
package corelog

import (
	"strconv"
	"strings"
	"sync"

	"github.com/axoflow/corelogd/internal/corelog/errs"
	"github.com/axoflow/corelogd/internal/driver"
	"github.com/axoflow/corelogd/internal/logmsg"
	"github.com/axoflow/corelogd/internal/logqueue"
	"github.com/axoflow/corelogd/internal/qdisk"
	"github.com/axoflow/corelogd/internal/refcache"
	"github.com/axoflow/corelogd/internal/registry"
	"github.com/axoflow/corelogd/internal/wire"
)

// Re-exported core types, so callers need only import this one package.
type (
	Handle = registry.Handle
	Message = logmsg.LogMessage
	Queue = logqueue.Queue
	QueueStats = logqueue.Stats
	RefCache = refcache.Cache
	RefMode = refcache.Mode
)

// Ref/ack cache modes.
const (
	Producer = refcache.Producer
	Consumer = refcache.Consumer
)

// Options configures a Core instance.
type Options struct {
	QueueDir string // directory holding queue files, the dirlock, and persist-state
	Registry *registry.Registry // nil uses registry.Default()
}

// Core is one running instance's binding to a queue directory and a name
// registry. It is the facade's entry point.
type Core struct {
	driver *driver.Driver
	reg *registry.Registry

	mu sync.Mutex
	queues map[string]*Queue // tracked for StatsCSV
}

// Open acquires the queue directory (dirlock + persist-state) described by
// opts.
func Open(opts Options) (*Core, error) {
	reg := opts.Registry
	if reg == nil {
		reg = registry.Default()
	}
	d, err := driver.Open(opts.QueueDir)
	if err != nil {
		return nil, err
	}
	return &Core{driver: d, reg: reg, queues: map[string]*Queue{}}, nil
}

// Close releases the queue directory's dirlock. Every acquired queue must
// be released first.
func (c *Core) Close() error { return c.driver.Close() }

// Registry returns the name/value handle registry this Core resolves
// against.
func (c *Core) Registry() *registry.Registry { return c.reg }

// AllocHandle allocates or looks up the handle for name.
func (c *Core) AllocHandle(name string) Handle { return c.reg.AllocHandle(name) }

// NewMessage constructs a LogMessage from raw bytes received from saddr.
// parseFn, if non-nil, is the out-of-core parser plugin.
func (c *Core) NewMessage(raw []byte, saddr string, parseFn func(*Message, []byte) error) *Message {
	return logmsg.New(c.reg, raw, saddr, parseFn)
}

// NewEmptyMessage constructs a ref=1/ack=0 message with no payload set.
func (c *Core) NewEmptyMessage() *Message { return logmsg.NewEmpty(c.reg) }

// Marshal encodes a LogMessage in the current wire format.
func Marshal(m *Message) []byte { return wire.Marshal(m) }

// Unmarshal decodes a wire-format LogMessage against this Core's registry.
func (c *Core) Unmarshal(data []byte) (*Message, error) { return wire.Unmarshal(c.reg, data) }

// QueueConfig configures AcquireQueue: a small documented struct instead of a
// long positional constructor.
type QueueConfig struct {
	Reliable bool
	MaxSize int64
	Preallocate bool
	TruncateSizeRatio float64
	UseV1WrapCompat bool
	FrontCacheSize int
	FlowControlWindowSize int
	OverflowSize int
}

func (cfg QueueConfig) toLogQueueOptions(reg *registry.Registry) logqueue.Options {
	return logqueue.Options{
		Disk: qdisk.Options{
			Reliable: cfg.Reliable,
			MaxSize: cfg.MaxSize,
			Preallocate: cfg.Preallocate,
			TruncateSizeRatio: cfg.TruncateSizeRatio,
			UseV1WrapCompat: cfg.UseV1WrapCompat,
		},
		FrontCacheSize: cfg.FrontCacheSize,
		FlowControlWindowSize: cfg.FlowControlWindowSize,
		OverflowSize: cfg.OverflowSize,
		Registry: reg,
	}
}

// AcquireQueue binds name to its backing disk queue, reopening a
// persisted file or creating a fresh one as needed.
func (c *Core) AcquireQueue(name string, cfg QueueConfig) (*Queue, error) {
	q, err := c.driver.Acquire(name, driver.AcquireOptions{Queue: cfg.toLogQueueOptions(c.reg)})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.queues[name] = q
	c.mu.Unlock()
	return q, nil
}

// ReleaseQueue hands q back to the driver's reload holding area, so a
// config reload can reclaim it without reopening the file from disk.
func (c *Core) ReleaseQueue(name string, q *Queue) error {
	c.mu.Lock()
	delete(c.queues, name)
	c.mu.Unlock()
	return c.driver.Release(name, q)
}

// DropQueue closes and deletes q's backing file for good, once it has been
// drained.
func (c *Core) DropQueue(name string, q *Queue) error {
	c.mu.Lock()
	delete(c.queues, name)
	c.mu.Unlock()
	return c.driver.Drop(name, q)
}

// StatsCSV renders one CSV row per currently-acquired queue, for the
// control protocol's STATS command.
func (c *Core) StatsCSV() []string {
	c.mu.Lock()
	names := make([]string, 0, len(c.queues))
	snapshot := make(map[string]*Queue, len(c.queues))
	for name, q := range c.queues {
		names = append(names, name)
		snapshot[name] = q
	}
	c.mu.Unlock()

	strs := make([]string, 0, len(names)+1)
	for _, name := range names {
		q := snapshot[name]
		s := q.Stats()
		strs = append(strs, strings.Join([]string{
			q.ClusterKey(),
			strconv.FormatInt(s.Queued, 10),
			strconv.FormatInt(s.MemoryBytes, 10),
			strconv.FormatInt(s.DiskBytesUsed, 10),
			strconv.FormatInt(s.DiskAllocBytes, 10),
			strconv.FormatInt(s.CapacityKiB, 10),
			strconv.FormatInt(s.Dropped, 10),
		}, ","))
	}
	return strs
}

// ErrQueueFull is returned by Queue.PushTail when every tier is at
// capacity ; re-exported so callers need not
// import internal/corelog/errs directly.
var ErrQueueFull = errs.ErrQueueFull

// Example (doc only): a source stage producing one message and pushing it.
//
//	core, _ := corelog.Open(corelog.Options{QueueDir: "/var/lib/corelogd"})
//	q, _ := core.AcquireQueue("dst#0", corelog.QueueConfig{MaxSize: 10 << 20, FrontCacheSize: 64})
//	m := core.NewMessage([]byte("hello"), "127.0.0.1", nil)
//	var rc corelog.RefCache
//	rc.Start(m, corelog.Producer, true)
//	if err := q.PushTail(m); err != nil {
//	    // handle corelog.ErrQueueFull
//	}
//	rc.Stop()
