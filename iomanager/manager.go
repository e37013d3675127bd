// Package iomanager implements a disk-backed, content-addressed cache
// I/O engine: a single dedicated worker drains a priority queue of
// filesystem operations against a registry of reference-counted entry
// handles and a bounded pool of open descriptors.
package iomanager

import (
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/cachefileio/cachefileio/iomanager/iostats"
)

// OpenFlags selects OpenFile's semantics. Exactly one of Open, Create or
// CreateNew must be set; Priority and Nohash are independent bits.
type OpenFlags uint32

const (
	// FlagOpen requires an existing entry; NotAvailable if absent.
	FlagOpen OpenFlags = 1 << iota
	// FlagCreate returns the live handle if one exists, else adopts the
	// on-disk file if present, else allocates empty (Open Question
	// decision #1).
	FlagCreate
	// FlagCreateNew dooms any existing live handle and allocates a
	// fresh, empty one.
	FlagCreateNew
	// FlagPriority marks the resulting handle so subsequent reads and
	// dooms against it dispatch at the priority tier.
	FlagPriority
	// FlagNohash treats the OpenFile key as a literal 40-character
	// uppercase hex digest instead of a pre-hash key to sum.
	FlagNohash
)

func (f OpenFlags) modeCount() int {
	n := 0
	for _, bit := range []OpenFlags{FlagOpen, FlagCreate, FlagCreateNew} {
		if f&bit != 0 {
			n++
		}
	}
	return n
}

// Manager is the engine's lifecycle controller and public dispatcher. It
// is safe to share across goroutines: every call only ever constructs a
// work item and hands it to the worker, or reads a flag via atomics.
type Manager struct {
	root string

	w         *worker
	reg       *registry
	pool      *fdPool
	completer Completer
	metrics   *metrics
	stats     *iostats.Store

	shuttingDown int32 // atomic bool
}

// Option configures optional engine behavior at Init time, the same
// functional-option shape the teacher's cache.go builds its Options
// struct from (there via configstruct field tags; here directly, since
// configstruct itself is teacher-internal and not a reusable
// dependency).
type Option func(*Manager) error

// WithMetricsRegisterer registers the engine's Prometheus collectors
// against reg instead of leaving them unregistered.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) error {
		m.metrics = newMetrics(reg)
		return nil
	}
}

// WithAccessJournal opens a non-authoritative bbolt access journal
// under dir, recording last-access time and counts per digest. The
// journal is diagnostic only: its absence or loss never affects engine
// correctness.
func WithAccessJournal(dir string) Option {
	return func(m *Manager) error {
		store, err := iostats.Open(dir)
		if err != nil {
			return err
		}
		m.stats = store
		return nil
	}
}

// Init starts exactly one engine instance rooted at root. The caller
// supplies the root directory (profile/directory discovery is out of
// scope, per spec.md §1); entries/ and doomed/ are created lazily on
// first I/O, not here.
func Init(root string, completer Completer, opts ...Option) (*Manager, error) {
	m := &Manager{
		root:      root,
		w:         newWorker(),
		reg:       newRegistry(),
		pool:      newFDPool(),
		completer: completer,
		metrics:   newMetrics(nil),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, errors.Wrap(err, "iomanager: applying option")
		}
	}
	m.w.metrics = m.metrics
	m.w.start()
	logrus.WithField("root", root).Info("iomanager: initialized")
	return m, nil
}

// Shutting reports whether Shutdown has been requested. Exposed per
// SPEC_FULL.md §5's supplemented state query.
func (m *Manager) Shutting() bool {
	return atomic.LoadInt32(&m.shuttingDown) != 0
}

// BucketCount exposes the registry's bucket count for diagnostics and
// tests, per SPEC_FULL.md §5.
func (m *Manager) BucketCount() int {
	done := make(chan int, 1)
	m.w.submit(classClose, func() { done <- m.reg.BucketCount() })
	return <-done
}

// Shutdown drains the engine: marks it not-initialized for new calls,
// posts a shutdown item at the CLOSE priority class so it runs after
// every already-queued operation, and blocks until the worker
// acknowledges the drain (spec.md §4.4).
func (m *Manager) Shutdown() {
	atomic.StoreInt32(&m.shuttingDown, 1)
	m.w.submit(classClose, m.shutdownInternal)
	m.w.awaitShutdownAck()
	<-m.w.stopped()
	if m.stats != nil {
		if err := m.stats.Close(); err != nil {
			logrus.WithError(err).Warn("iomanager: closing access journal failed")
		}
	}
	logrus.Info("iomanager: shutdown complete")
}

func (m *Manager) shutdownInternal() {
	for _, h := range m.reg.GetAllHandles() {
		h.removingHandle = true
		h.closed = true
		m.pool.Release(h)
		if h.doomed || h.invalid {
			if err := h.path.Remove(); err != nil {
				logrus.WithFields(h.logFields()).WithError(err).Warn("iomanager: shutdown cleanup failed to remove file")
			}
		}
		m.reg.RemoveHandle(h)
	}
	m.reportPoolSize()
	m.w.ackShutdown()
}

// reportPoolSize refreshes the fd_pool_size gauge after an operation that
// may have opened, touched or released a descriptor.
func (m *Manager) reportPoolSize() {
	m.metrics.fdPoolSize.Set(float64(m.pool.Len()))
}

// priorityClassFor resolves the dispatch tier for an open/read/doom
// operation against a handle opened with FlagPriority.
func priorityClassFor(p Priority, def priorityClass) priorityClass {
	if p == PriorityHigh {
		return classOpenReadDoomPriority
	}
	return def
}

// OpenFile resolves key to a digest (on the calling goroutine, per
// spec.md §5 — the hash primitive is pure) and dispatches
// OpenFileInternal on the worker.
func (m *Manager) OpenFile(key string, flags OpenFlags, listener Listener) {
	if m.Shutting() {
		listener.OnFileOpened(nil, NewError(KindNotInitialized, nil))
		return
	}
	if flags.modeCount() != 1 {
		listener.OnFileOpened(nil, NewError(KindInvalidArgument, errors.New("exactly one of Open/Create/CreateNew required")))
		return
	}

	var digest Digest
	origKey := key
	if flags&FlagNohash != 0 {
		d, err := ParseHex(key)
		if err != nil {
			listener.OnFileOpened(nil, NewError(KindInvalidArgument, err))
			return
		}
		digest = d
		origKey = ""
	} else {
		digest = Sum([]byte(key))
	}

	class := priorityClass(classOpenRead)
	if flags&FlagPriority != 0 {
		class = classOpenReadDoomPriority
	}

	m.w.submit(class, func() {
		h, err := m.openFileInternal(digest, origKey, flags)
		m.completer.Post(func() { listener.OnFileOpened(h, err) })
	})
}

func (m *Manager) openFileInternal(digest Digest, key string, flags OpenFlags) (*Handle, error) {
	if m.Shutting() {
		return nil, NewError(KindNotInitialized, nil)
	}
	if err := EnsureCacheTree(m.root); err != nil {
		return nil, NewError(KindInvalidPath, err)
	}

	priority := PriorityNormal
	if flags&FlagPriority != 0 {
		priority = PriorityHigh
	}

	path := EntryPath(m.root, digest)
	existing, _ := m.reg.GetHandle(digest)

	switch {
	case flags&FlagCreateNew != 0:
		if existing != nil {
			if err := m.doomHandleInternal(existing); err != nil {
				return nil, err
			}
		}
		h := m.reg.NewHandle(digest, key, path.Clone(), priority)
		if err := h.path.Remove(); err != nil {
			logrus.WithFields(h.logFields()).WithError(err).Warn("iomanager: failed to remove doomed entry's file during CreateNew")
		}
		h.fileSize = 0
		h.fileExists = false
		h.addRef()
		m.metrics.opensTotal.Inc()
		return h, nil

	case flags&FlagOpen != 0:
		if existing != nil {
			existing.addRef()
			return existing, nil
		}
		if !path.Exists() {
			return nil, NewError(KindNotAvailable, nil)
		}
		h := m.reg.NewHandle(digest, key, path.Clone(), priority)
		h.fileSize = path.Size()
		h.fileExists = true
		h.addRef()
		m.metrics.opensTotal.Inc()
		return h, nil

	default: // FlagCreate: adopt-or-allocate (Open Question decision #1)
		if existing != nil {
			existing.addRef()
			return existing, nil
		}
		h := m.reg.NewHandle(digest, key, path.Clone(), priority)
		if path.Exists() {
			h.fileSize = path.Size()
			h.fileExists = true
		} else {
			h.fileSize = 0
			h.fileExists = false
		}
		h.addRef()
		m.metrics.opensTotal.Inc()
		return h, nil
	}
}

// Read dispatches a read of count bytes at offset into buf.
func (m *Manager) Read(h *Handle, offset int64, buf []byte, count int, listener Listener) {
	if m.Shutting() {
		listener.OnDataRead(h, nil, NewError(KindNotInitialized, nil))
		return
	}
	class := priorityClassFor(h.priority, classOpenRead)
	m.w.submit(class, func() {
		err := m.readInternal(h, offset, buf, count)
		m.completer.Post(func() { listener.OnDataRead(h, buf[:count], err) })
	})
}

func (m *Manager) readInternal(h *Handle, offset int64, buf []byte, count int) error {
	if !h.fileExists {
		return NewError(KindNotAvailable, nil)
	}
	if err := m.pool.Open(h, OpenExisting); err != nil {
		return err
	}
	defer m.reportPoolSize()
	if !h.fileExists {
		return NewError(KindNotAvailable, nil)
	}
	m.pool.Touch(h)
	n, err := h.fd.ReadAt(buf[:count], offset)
	if err != nil && err != io.EOF {
		return Wrapf(err, "reading %q", h.path)
	}
	if n < count {
		return NewError(KindFailure, errors.Errorf("short read: got %d of %d bytes", n, count))
	}
	m.metrics.readBytes.Add(float64(n))
	if m.stats != nil {
		if err := m.stats.RecordRead(h.digest.String()); err != nil {
			logrus.WithFields(h.logFields()).WithError(err).Debug("iomanager: access journal write failed")
		}
	}
	return nil
}

// Write dispatches a write of count bytes at offset from buf. validate
// clears the handle's invalid flag on success; otherwise the write
// leaves the handle invalid so a higher layer can detect a torn write
// after a crash.
func (m *Manager) Write(h *Handle, offset int64, buf []byte, count int, validate bool, listener Listener) {
	if m.Shutting() {
		listener.OnDataWritten(h, nil, NewError(KindNotInitialized, nil))
		return
	}
	m.w.submit(classWriteDoom, func() {
		err := m.writeInternal(h, offset, buf, count, validate)
		m.completer.Post(func() { listener.OnDataWritten(h, buf[:count], err) })
	})
}

func (m *Manager) writeInternal(h *Handle, offset int64, buf []byte, count int, validate bool) error {
	if err := m.pool.Open(h, OpenCreateIfMissing); err != nil {
		return err
	}
	defer m.reportPoolSize()
	h.invalid = true
	m.pool.Touch(h)
	n, err := h.fd.WriteAt(buf[:count], offset)
	if err != nil {
		return Wrapf(err, "writing %q", h.path)
	}
	if n < count {
		return NewError(KindFailure, errors.Errorf("short write: wrote %d of %d bytes", n, count))
	}
	if offset+int64(count) > h.fileSize {
		h.fileSize = offset + int64(count)
	}
	h.fileExists = true
	if validate {
		h.invalid = false
	}
	m.metrics.writeBytes.Add(float64(count))
	if m.stats != nil {
		if err := m.stats.RecordWrite(h.digest.String()); err != nil {
			logrus.WithFields(h.logFields()).WithError(err).Debug("iomanager: access journal write failed")
		}
	}
	return nil
}

// DoomFile marks h logically deleted: the on-disk file is renamed into
// doomed/ immediately, but the Handle and its remaining readers survive
// until the last reference releases.
func (m *Manager) DoomFile(h *Handle, listener Listener) {
	if m.Shutting() {
		listener.OnFileDoomed(h, NewError(KindNotInitialized, nil))
		return
	}
	class := priorityClassFor(h.priority, classWriteDoom)
	m.w.submit(class, func() {
		err := m.doomHandleInternal(h)
		m.completer.Post(func() { listener.OnFileDoomed(h, err) })
	})
}

func (m *Manager) doomHandleInternal(h *Handle) error {
	if h.doomed {
		return nil
	}
	m.pool.Release(h)
	m.reportPoolSize()
	if h.path.Exists() {
		dst, err := DoomedPath(m.root)
		if err != nil {
			return err
		}
		if err := h.path.RenameTo(dst); err != nil {
			if os.IsNotExist(err) {
				h.fileExists = false
			} else {
				return Wrapf(err, "dooming %q", h.path)
			}
		}
	} else {
		h.fileExists = false
	}
	h.doomed = true
	m.metrics.doomsTotal.Inc()
	if m.stats != nil {
		if err := m.stats.Forget(h.digest.String()); err != nil {
			logrus.WithFields(h.logFields()).WithError(err).Debug("iomanager: access journal forget failed")
		}
	}
	logrus.WithFields(h.logFields()).Debug("iomanager: doomed entry")
	return nil
}

// DoomFileByKey dooms the live handle for key if one is registered,
// otherwise unlinks the on-disk file directly.
func (m *Manager) DoomFileByKey(key string, listener Listener) {
	if m.Shutting() {
		listener.OnFileDoomed(nil, NewError(KindNotInitialized, nil))
		return
	}
	digest := Sum([]byte(key))
	m.w.submit(classWriteDoom, func() {
		h, err := m.doomFileByKeyInternal(digest)
		m.completer.Post(func() { listener.OnFileDoomed(h, err) })
	})
}

func (m *Manager) doomFileByKeyInternal(digest Digest) (*Handle, error) {
	if existing, err := m.reg.GetHandle(digest); err == nil {
		return existing, m.doomHandleInternal(existing)
	}
	path := EntryPath(m.root, digest)
	if !path.Exists() {
		return nil, NewError(KindNotAvailable, nil)
	}
	if err := path.Remove(); err != nil {
		return nil, Wrapf(err, "removing %q", path)
	}
	m.metrics.doomsTotal.Inc()
	return nil, nil
}

// ReleaseFD idempotently closes h's descriptor without releasing the
// Handle itself.
func (m *Manager) ReleaseFD(h *Handle) {
	m.w.submit(classClose, func() {
		m.pool.Release(h)
		m.reportPoolSize()
	})
}

// TruncateSeekSetEOF finalizes an entry after streaming completes: it
// unconditionally invalidates the handle, truncates to truncPos, then
// to eofPos. Truncating to truncPos first releases storage before the
// final extension, matching the original's ordering.
func (m *Manager) TruncateSeekSetEOF(h *Handle, truncPos, eofPos int64, listener Listener) {
	if m.Shutting() {
		listener.OnEOFSet(h, NewError(KindNotInitialized, nil))
		return
	}
	m.w.submit(classWriteDoom, func() {
		err := m.truncateSeekSetEOFInternal(h, truncPos, eofPos)
		m.completer.Post(func() { listener.OnEOFSet(h, err) })
	})
}

func (m *Manager) truncateSeekSetEOFInternal(h *Handle, truncPos, eofPos int64) error {
	if err := m.pool.Open(h, OpenCreateIfMissing); err != nil {
		return err
	}
	defer m.reportPoolSize()
	h.invalid = true
	m.pool.Touch(h)
	if err := h.fd.Truncate(truncPos); err != nil {
		return Wrapf(err, "truncating %q to %d", h.path, truncPos)
	}
	if err := h.fd.Truncate(eofPos); err != nil {
		return Wrapf(err, "setting EOF of %q to %d", h.path, eofPos)
	}
	h.fileSize = eofPos
	h.fileExists = true
	return nil
}

// EnumerateEntryFiles returns an iterator over entries/ or doomed/.
func (m *Manager) EnumerateEntryFiles(mode EnumerateMode) (*EntryIterator, error) {
	if m.Shutting() {
		return nil, NewError(KindNotInitialized, nil)
	}
	var dir string
	switch mode {
	case EnumerateEntries:
		dir = filepath.Join(m.root, entriesDirName)
	case EnumerateDoomed:
		dir = filepath.Join(m.root, doomedDirName)
	default:
		return nil, NewError(KindInvalidArgument, errors.Errorf("unknown enumerate mode %d", mode))
	}
	return newEntryIterator(dir)
}

// ReleaseHandle drops the caller's reference to h. When the registry is
// left as the sole owner, a close operation is scheduled; its handler
// re-checks the refcount to guard against a reference resurrected
// between the drop and the scheduled close (spec.md §3, Open Question
// decision #5).
func (m *Manager) ReleaseHandle(h *Handle) {
	if h.release() != 1 || h.closed || h.removingHandle {
		return
	}
	h.addRef() // the close operation's own reference
	m.w.submit(classClose, func() { m.closeHandleInternal(h) })
}

func (m *Manager) closeHandleInternal(h *Handle) {
	if h.refs() != 2 {
		// A new reference appeared since the drop to 1; abandon the
		// close and give up only the close operation's own reference.
		h.release()
		return
	}
	h.removingHandle = true
	h.closed = true
	m.pool.Release(h)
	m.reportPoolSize()
	if h.doomed || h.invalid {
		if err := h.path.Remove(); err != nil {
			logrus.WithFields(h.logFields()).WithError(err).Warn("iomanager: failed to remove file on close")
		}
	}
	m.reg.RemoveHandle(h)
	h.release() // registry's reference
	h.release() // the close operation's own reference
}
