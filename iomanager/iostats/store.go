// Package iostats is an optional, non-authoritative access journal for a
// cache engine. It exists purely for diagnostics (last-access time and
// access counts per digest); nothing in iomanager consults it to decide
// correctness, so a missing or corrupt journal never affects the
// engine's behavior.
package iostats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// accessBucket holds one JSON-encoded accessRecord per digest hex key.
const accessBucket = "access"

type accessRecord struct {
	LastAccess time.Time
	Reads      int64
	Writes     int64
}

// Store is a thin wrapper around a bolt.DB, grounded on the bucket-per-
// concern, Update-transaction idiom of the persistent-storage wrapper it
// is adapted from. One Store is opened per cache root.
type Store struct {
	mu   sync.Mutex
	path string
	db   *bolt.DB
	open bool
}

// Open connects to (creating if absent) a journal file under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating journal directory %q", dir)
	}
	path := filepath.Join(dir, "access.db")
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening journal %q", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(accessBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "initializing journal buckets in %q", path)
	}
	return &Store{path: path, db: db, open: true}, nil
}

// Close releases the underlying bolt.DB handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	return s.db.Close()
}

// RecordRead bumps the read counter and last-access time for digestHex.
func (s *Store) RecordRead(digestHex string) error {
	return s.touch(digestHex, func(r *accessRecord) { r.Reads++ })
}

// RecordWrite bumps the write counter and last-access time for
// digestHex.
func (s *Store) RecordWrite(digestHex string) error {
	return s.touch(digestHex, func(r *accessRecord) { r.Writes++ })
}

func (s *Store) touch(digestHex string, mutate func(*accessRecord)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(accessBucket))
		rec := accessRecord{}
		if raw := b.Get([]byte(digestHex)); raw != nil {
			if err := json.Unmarshal(raw, &rec); err != nil {
				return errors.Wrapf(err, "decoding access record for %q", digestHex)
			}
		}
		mutate(&rec)
		rec.LastAccess = time.Now()
		buf, err := json.Marshal(rec)
		if err != nil {
			return errors.Wrapf(err, "encoding access record for %q", digestHex)
		}
		return b.Put([]byte(digestHex), buf)
	})
}

// Forget removes a digest's journal entry, called when an entry is
// dooomed. A missing entry is not an error.
func (s *Store) Forget(digestHex string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(accessBucket)).Delete([]byte(digestHex))
	})
}

// LastAccess returns the recorded last-access time for digestHex, or
// the zero time if no record exists.
func (s *Store) LastAccess(digestHex string) (time.Time, error) {
	var t time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(accessBucket)).Get([]byte(digestHex))
		if raw == nil {
			return nil
		}
		var rec accessRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		t = rec.LastAccess
		return nil
	})
	return t, err
}
