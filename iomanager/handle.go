package iomanager

import (
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Priority is the coarse dispatch tier a Handle was opened with. It is set
// once, at OpenFile time, from the PRIORITY flag, and governs which
// sub-queue subsequent reads and dooms against this handle land in.
type Priority int

const (
	// PriorityNormal is the default dispatch tier.
	PriorityNormal Priority = iota
	// PriorityHigh marks a handle opened with the PRIORITY flag.
	PriorityHigh
)

// Handle is a reference-counted descriptor for one cache entry, live or
// doomed. digest, key, priority and the path pointer are fixed once
// newHandle constructs it; the flags, fd, fileSize, refCount and the
// location the path names (renamed in place on doom) change over its
// life. The digest is stored by value rather than as a pointer into the
// owning bucket (Open Question decision #4), so there is no
// pointer-reseat-on-rehash step to get wrong.
type Handle struct {
	digest Digest
	key    string
	path   *Path

	priority Priority

	// fd is nil when the descriptor is not currently open; owned by the
	// FD pool while non-nil.
	fd *os.File

	fileSize int64 // -1 means unknown

	doomed         bool
	invalid        bool
	closed         bool
	removingHandle bool
	fileExists     bool

	// refCount is 2 while both the registry and exactly one caller hold
	// a reference; see Manager.ReleaseHandle and closeHandleInternal for
	// the resurrection check this backs.
	refCount int32
}

// newHandle constructs a Handle owned by the registry (refCount starts at
// 1); the caller that receives it from OpenFile bumps it to 2.
func newHandle(digest Digest, key string, path *Path, priority Priority) *Handle {
	return &Handle{
		digest:   digest,
		key:      key,
		path:     path,
		priority: priority,
		fileSize: -1,
		refCount: 1,
	}
}

// Digest returns the handle's content-address key.
func (h *Handle) Digest() Digest { return h.digest }

// Key returns the original pre-hash key string, kept for diagnostics and
// caller-side re-hashing; empty when the handle was opened via NOHASH.
func (h *Handle) Key() string { return h.key }

// Path returns the handle's current filesystem path object.
func (h *Handle) Path() *Path { return h.path }

// FileSize returns the cached size, or -1 if unknown.
func (h *Handle) FileSize() int64 { return h.fileSize }

// IsDoomed reports the doomed flag.
func (h *Handle) IsDoomed() bool { return h.doomed }

// IsInvalid reports the invalid flag (an unfinalized write is pending).
func (h *Handle) IsInvalid() bool { return h.invalid }

// IsClosed reports the closed flag.
func (h *Handle) IsClosed() bool { return h.closed }

// FileExists reports the last-known existence of the on-disk file. A
// false negative is tolerated; the opener re-checks (spec.md §3).
func (h *Handle) FileExists() bool { return h.fileExists }

// Priority returns the dispatch tier this handle was opened with.
func (h *Handle) Priority() Priority { return h.priority }

// addRef increments the shared reference count. Called whenever a new
// owner (a caller, or an in-flight operation) captures the handle.
func (h *Handle) addRef() int32 {
	return atomic.AddInt32(&h.refCount, 1)
}

// release decrements the shared reference count and returns the new
// value.
func (h *Handle) release() int32 {
	return atomic.AddInt32(&h.refCount, -1)
}

func (h *Handle) refs() int32 {
	return atomic.LoadInt32(&h.refCount)
}

// logFields returns the structured logrus fields every handle-scoped log
// line carries, mirroring the one-line-per-state-transition density of
// the teacher's fs.Debugf/Infof call sites.
func (h *Handle) logFields() logrus.Fields {
	return logrus.Fields{
		"digest":  h.digest.String(),
		"doomed":  h.doomed,
		"invalid": h.invalid,
	}
}
