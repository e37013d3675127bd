package iomanager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testListener collects exactly one completion per call, synchronously
// waitable — a test-only stand-in for a caller's event loop.
type testListener struct {
	done   chan struct{}
	handle *Handle
	buf    []byte
	err    error
}

func newTestListener() *testListener { return &testListener{done: make(chan struct{}, 1)} }

func (l *testListener) wait(t *testing.T) (*Handle, []byte, error) {
	t.Helper()
	<-l.done
	return l.handle, l.buf, l.err
}

func (l *testListener) OnFileOpened(h *Handle, err error) {
	l.handle, l.err = h, err
	l.done <- struct{}{}
}
func (l *testListener) OnDataRead(h *Handle, buf []byte, err error) {
	l.handle, l.buf, l.err = h, buf, err
	l.done <- struct{}{}
}
func (l *testListener) OnDataWritten(h *Handle, buf []byte, err error) {
	l.handle, l.buf, l.err = h, buf, err
	l.done <- struct{}{}
}
func (l *testListener) OnFileDoomed(h *Handle, err error) {
	l.handle, l.err = h, err
	l.done <- struct{}{}
}
func (l *testListener) OnEOFSet(h *Handle, err error) {
	l.handle, l.err = h, err
	l.done <- struct{}{}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	m, err := Init(root, NewCallbackCompleter())
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

// TestS1OpenWriteReadRoundTrip is spec scenario S1.
func TestS1OpenWriteReadRoundTrip(t *testing.T) {
	m := newTestManager(t)

	ol := newTestListener()
	m.OpenFile("http://a/", FlagCreate, ol)
	h, _, err := ol.wait(t)
	require.NoError(t, err)
	assert.False(t, h.FileExists())
	assert.EqualValues(t, 0, h.FileSize())

	wl := newTestListener()
	m.Write(h, 0, []byte("hello"), 5, true, wl)
	_, _, err = wl.wait(t)
	require.NoError(t, err)
	assert.False(t, h.IsInvalid())
	assert.EqualValues(t, 5, h.FileSize())
	assert.FileExists(t, filepath.Join(m.root, "entries", Sum([]byte("http://a/")).String()))

	buf := make([]byte, 5)
	rl := newTestListener()
	m.Read(h, 0, buf, 5, rl)
	_, data, err := rl.wait(t)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

// TestS2DoomThenReopen is spec scenario S2.
func TestS2DoomThenReopen(t *testing.T) {
	m := newTestManager(t)

	ol := newTestListener()
	m.OpenFile("http://a/", FlagCreate, ol)
	h, _, err := ol.wait(t)
	require.NoError(t, err)
	wl := newTestListener()
	m.Write(h, 0, []byte("hello"), 5, true, wl)
	_, _, err = wl.wait(t)
	require.NoError(t, err)

	dl := newTestListener()
	m.DoomFile(h, dl)
	_, _, err = dl.wait(t)
	require.NoError(t, err)
	assert.True(t, h.IsDoomed())

	ol2 := newTestListener()
	m.OpenFile("http://a/", FlagCreate, ol2)
	h2, _, err := ol2.wait(t)
	require.NoError(t, err)
	assert.NotSame(t, h, h2)
	assert.False(t, h2.FileExists())

	m.ReleaseHandle(h)
	m.ReleaseHandle(h2)

	// Give the close operations (CLOSE priority) time to drain: submit
	// a no-op CLOSE item and wait for it.
	waitForWorkerQuiescent(t, m)

	doomedDir := filepath.Join(m.root, "doomed")
	entries, err := os.ReadDir(doomedDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, 0, m.BucketCount())
}

// TestS4CreateNewReplacesLive is spec scenario S4.
func TestS4CreateNewReplacesLive(t *testing.T) {
	m := newTestManager(t)

	ol := newTestListener()
	m.OpenFile("k", FlagOpen, ol)
	_, _, err := ol.wait(t)
	assert.True(t, Is(err, KindNotAvailable))

	cl := newTestListener()
	m.OpenFile("k", FlagCreateNew, cl)
	h, _, err := cl.wait(t)
	require.NoError(t, err)

	cl2 := newTestListener()
	m.OpenFile("k", FlagCreateNew, cl2)
	h2, _, err := cl2.wait(t)
	require.NoError(t, err)

	assert.True(t, h.IsDoomed())
	assert.False(t, h2.IsDoomed())
	assert.NotSame(t, h, h2)

	got := m.BucketCount()
	assert.Equal(t, 1, got)
}

// TestS5NohashParsing is spec scenario S5.
func TestS5NohashParsing(t *testing.T) {
	m := newTestManager(t)

	digest := Sum([]byte("http://a/"))
	ol := newTestListener()
	m.OpenFile(digest.String(), FlagOpen|FlagNohash, ol)
	_, _, err := ol.wait(t)
	assert.True(t, Is(err, KindNotAvailable))

	badl := newTestListener()
	m.OpenFile("01234", FlagOpen|FlagNohash, badl)
	_, _, err = badl.wait(t)
	assert.True(t, Is(err, KindInvalidArgument))
}

// TestS6ShutdownCleansInvalidEntries is spec scenario S6.
func TestS6ShutdownCleansInvalidEntries(t *testing.T) {
	root := t.TempDir()
	m, err := Init(root, NewCallbackCompleter())
	require.NoError(t, err)

	ol := newTestListener()
	m.OpenFile("http://a/", FlagCreate, ol)
	h, _, err := ol.wait(t)
	require.NoError(t, err)

	wl := newTestListener()
	m.Write(h, 0, []byte("hello"), 5, false, wl)
	_, _, err = wl.wait(t)
	require.NoError(t, err)
	assert.True(t, h.IsInvalid())

	entryPath := filepath.Join(root, "entries", Sum([]byte("http://a/")).String())
	assert.FileExists(t, entryPath)

	m.Shutdown()

	_, statErr := os.Stat(entryPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestOpenFileRejectsAmbiguousFlags(t *testing.T) {
	m := newTestManager(t)
	ol := newTestListener()
	m.OpenFile("k", FlagOpen|FlagCreate, ol)
	_, _, err := ol.wait(t)
	assert.True(t, Is(err, KindInvalidArgument))
}

func TestDoomFileByKeyWithNoHandleUnlinksFile(t *testing.T) {
	m := newTestManager(t)
	ol := newTestListener()
	m.OpenFile("k", FlagCreate, ol)
	h, _, err := ol.wait(t)
	require.NoError(t, err)
	wl := newTestListener()
	m.Write(h, 0, []byte("x"), 1, true, wl)
	_, _, err = wl.wait(t)
	require.NoError(t, err)
	m.ReleaseHandle(h)
	waitForWorkerQuiescent(t, m)

	entryPath := filepath.Join(m.root, "entries", Sum([]byte("k")).String())
	assert.FileExists(t, entryPath)

	dl := newTestListener()
	m.DoomFileByKey("k", dl)
	_, _, err = dl.wait(t)
	require.NoError(t, err)

	_, statErr := os.Stat(entryPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTruncateSeekSetEOF(t *testing.T) {
	m := newTestManager(t)
	ol := newTestListener()
	m.OpenFile("k", FlagCreate, ol)
	h, _, err := ol.wait(t)
	require.NoError(t, err)

	wl := newTestListener()
	m.Write(h, 0, []byte("hello world"), 11, true, wl)
	_, _, err = wl.wait(t)
	require.NoError(t, err)

	tl := newTestListener()
	m.TruncateSeekSetEOF(h, 4, 8, tl)
	_, _, err = tl.wait(t)
	require.NoError(t, err)
	assert.EqualValues(t, 8, h.FileSize())
}

// waitForWorkerQuiescent submits a CLOSE-priority no-op and blocks until
// it runs, guaranteeing every previously submitted item (including the
// resurrection-check close operations ReleaseHandle schedules) has
// completed.
func waitForWorkerQuiescent(t *testing.T, m *Manager) {
	t.Helper()
	done := make(chan struct{})
	m.w.submit(classClose, func() { close(done) })
	<-done
}
