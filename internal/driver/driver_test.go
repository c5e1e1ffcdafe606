package driver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/axoflow/corelogd/internal/logqueue"
	"github.com/axoflow/corelogd/internal/qdisk"
	"github.com/axoflow/corelogd/internal/writer"
)

func TestAcquireGeneratesUniqueFilename(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir)
	require.NoError(t, err)
	defer d.Close()

	q, err := d.Acquire("src.0", AcquireOptions{})
	require.NoError(t, err)
	require.Equal(t, "syslog-ng-00000.qf", filepath.Base(q.GetFilename()))
	require.NoError(t, d.Release("src.0", q))
}

func TestAcquireReliableUsesRqfExtension(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir)
	require.NoError(t, err)
	defer d.Close()

	opts := AcquireOptions{Queue: diskOpts(true)}
	q, err := d.Acquire("src.0", opts)
	require.NoError(t, err)
	require.Equal(t, "syslog-ng-00000.rqf", filepath.Base(q.GetFilename()))
	require.NoError(t, d.Release("src.0", q))
}

func TestReleaseThenAcquireReturnsSameHeldQueue(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir)
	require.NoError(t, err)
	defer d.Close()

	first, err := d.Acquire("src.0", AcquireOptions{})
	require.NoError(t, err)
	require.NoError(t, d.Release("src.0", first))

	second, err := d.Acquire("src.0", AcquireOptions{})
	require.NoError(t, err)
	require.Same(t, first, second)
	require.NoError(t, d.Release("src.0", second))
}

func TestAcquireAfterRestartReopensPersistedFile(t *testing.T) {
	dir := t.TempDir()
	d1, err := Open(dir)
	require.NoError(t, err)
	q1, err := d1.Acquire("src.0", AcquireOptions{})
	require.NoError(t, err)
	filename := filepath.Base(q1.GetFilename())
	require.NoError(t, d1.Release("src.0", q1))
	require.NoError(t, q1.Close())
	require.NoError(t, d1.Close())

	d2, err := Open(dir)
	require.NoError(t, err)
	defer d2.Close()
	q2, err := d2.Acquire("src.0", AcquireOptions{})
	require.NoError(t, err)
	require.Equal(t, filename, filepath.Base(q2.GetFilename()))
	require.NoError(t, d2.Release("src.0", q2))
}

func TestOpenRefusesSecondLockHolder(t *testing.T) {
	dir := t.TempDir()
	d1, err := Open(dir)
	require.NoError(t, err)
	defer d1.Close()

	_, err = Open(dir)
	require.Error(t, err)
}

func TestCloseThenOpenReleasesLock(t *testing.T) {
	dir := t.TempDir()
	d1, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, d1.Close())

	d2, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, d2.Close())
}

func TestDropClosesAndRemovesFileAndForgetsPersistState(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir)
	require.NoError(t, err)
	defer d.Close()

	q, err := d.Acquire("src.0", AcquireOptions{})
	require.NoError(t, err)
	path := q.GetFilename()
	require.NoError(t, d.Drop("src.0", q))

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
	_, ok := d.persist.Get("src.0")
	require.False(t, ok)
}

func TestAcquirePersistsThroughMemWriterWithoutTouchingPersistFile(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir)
	require.NoError(t, err)
	defer d.Close()

	mem := &writer.MemWriter{}
	d.persist.sink = mem

	q, err := d.Acquire("src.0", AcquireOptions{})
	require.NoError(t, err)
	require.NoError(t, d.Release("src.0", q))

	_, statErr := os.Stat(filepath.Join(dir, "queues.state.yaml"))
	require.True(t, os.IsNotExist(statErr), "persist-state file should never be written while the MemWriter sink is installed")
	require.Contains(t, string(mem.Buf), "src.0")
}

func diskOpts(reliable bool) logqueue.Options {
	return logqueue.Options{Disk: qdisk.Options{Reliable: reliable, MaxSize: qdisk.HeaderSize + 64*1024}}
}
