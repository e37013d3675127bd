package iomanager

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	entriesDirName = "entries"
	doomedDirName  = "doomed"
)

// Path is the abstract filesystem object a Handle carries: it can be
// cloned, renamed, sized, removed and opened without the caller knowing
// whether the entry currently lives under entries/ or doomed/.
type Path struct {
	abs string
}

// NewPath wraps an absolute path.
func NewPath(abs string) *Path {
	return &Path{abs: abs}
}

// String returns the absolute path.
func (p *Path) String() string {
	return p.abs
}

// Clone returns a copy naming the same absolute path.
func (p *Path) Clone() *Path {
	return &Path{abs: p.abs}
}

// Exists reports whether the file currently exists on disk.
func (p *Path) Exists() bool {
	_, err := os.Stat(p.abs)
	return err == nil
}

// Size returns the on-disk size, or -1 if the file does not exist.
func (p *Path) Size() int64 {
	fi, err := os.Stat(p.abs)
	if err != nil {
		return -1
	}
	return fi.Size()
}

// RenameTo moves the file to dst, updating this Path in place.
func (p *Path) RenameTo(dst *Path) error {
	if err := os.Rename(p.abs, dst.abs); err != nil {
		return err
	}
	p.abs = dst.abs
	return nil
}

// Remove deletes the file. A missing file is not an error.
func (p *Path) Remove() error {
	err := os.Remove(p.abs)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// OpenFlag mirrors the subset of open semantics the FD pool needs.
type OpenFlag int

const (
	// OpenExisting opens an existing file read-write, failing with
	// os.IsNotExist if absent.
	OpenExisting OpenFlag = iota
	// OpenCreateIfMissing creates the file if absent; an already
	// existing file is opened read-write without truncation, since
	// writes accumulate onto it.
	OpenCreateIfMissing
)

// Open opens the underlying OS file according to flag.
func (p *Path) Open(flag OpenFlag) (*os.File, error) {
	switch flag {
	case OpenCreateIfMissing:
		if err := os.MkdirAll(filepath.Dir(p.abs), 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating parent of %q", p.abs)
		}
		return os.OpenFile(p.abs, os.O_RDWR|os.O_CREATE, 0o644)
	default:
		return os.OpenFile(p.abs, os.O_RDWR, 0o644)
	}
}

// EntryPath returns the deterministic path for a digest under
// <root>/entries/<40-HEX>.
func EntryPath(root string, d Digest) *Path {
	return NewPath(filepath.Join(root, entriesDirName, d.String()))
}

// DoomedPath generates a fresh, not-yet-existing path under
// <root>/doomed/<name>, retrying on collision the way GetDoomedFile does
// in the original, but drawing names from a UUID rather than a
// time-seeded PRNG.
func DoomedPath(root string) (*Path, error) {
	dir := filepath.Join(root, doomedDirName)
	for attempt := 0; attempt < 100; attempt++ {
		name := uuid.New().String()
		p := NewPath(filepath.Join(dir, name))
		if !p.Exists() {
			return p, nil
		}
	}
	return nil, errors.New("path: could not allocate a free doomed-file name")
}

// EnsureCacheTree creates <root>, <root>/entries and <root>/doomed if they
// do not already exist. The manager calls this lazily, on first I/O, not
// at Init — mirroring CheckAndCreateDir's call sites in the original.
func EnsureCacheTree(root string) error {
	for _, dir := range []string{root, filepath.Join(root, entriesDirName), filepath.Join(root, doomedDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating cache directory %q", dir)
		}
	}
	return nil
}
