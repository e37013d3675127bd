package iomanager

// bucket owns every handle sharing a digest: at most the first element is
// live (doomed == false); every element after it is doomed but still
// referenced by some in-flight operation or caller. The original's
// circular linked list is replaced by a plain slice — single-writer
// (worker-goroutine-only) access means there is no need for O(1)
// splice-anywhere removal at this scale.
type bucket struct {
	handles []*Handle
}

// registry is the chained hash table of spec.md §4.2, reimplemented as a
// Go map keyed by Digest (Open Question decision #4). It is mutated only
// from the worker goroutine; no locking is required.
type registry struct {
	buckets map[Digest]*bucket
}

func newRegistry() *registry {
	// 512 initial buckets, matching the Init-time reservation spec.md
	// §4.4 calls for.
	return &registry{buckets: make(map[Digest]*bucket, 512)}
}

// GetHandle returns the live (non-doomed) head handle for digest, or
// KindNotAvailable if none exists or the head is doomed.
func (r *registry) GetHandle(d Digest) (*Handle, error) {
	b, ok := r.buckets[d]
	if !ok || len(b.handles) == 0 {
		return nil, NewError(KindNotAvailable, nil)
	}
	head := b.handles[0]
	if head.doomed {
		return nil, NewError(KindNotAvailable, nil)
	}
	return head, nil
}

// NewHandle allocates a fresh handle for digest and makes it the bucket's
// new head. The only legal case for a non-empty bucket is that every
// existing handle in it is already doomed — a live head must be doomed
// via DoomFile before a replacement can be created.
func (r *registry) NewHandle(d Digest, key string, path *Path, priority Priority) *Handle {
	b, ok := r.buckets[d]
	if !ok {
		b = &bucket{}
		r.buckets[d] = b
	}
	for _, existing := range b.handles {
		if !existing.doomed {
			panic("iomanager: registry invariant violated: live handle present in NewHandle")
		}
	}
	h := newHandle(d, key, path, priority)
	// New head goes to the front; doomed stragglers trail behind it.
	b.handles = append([]*Handle{h}, b.handles...)
	return h
}

// RemoveHandle unlinks h from its bucket. It does not change h's
// refCount (closeHandleInternal releases the registry's reference
// itself). If the bucket becomes empty the bucket entry itself is
// dropped, keeping BucketCount accurate.
func (r *registry) RemoveHandle(h *Handle) {
	b, ok := r.buckets[h.digest]
	if !ok {
		return
	}
	for i, candidate := range b.handles {
		if candidate == h {
			b.handles = append(b.handles[:i], b.handles[i+1:]...)
			break
		}
	}
	if len(b.handles) == 0 {
		delete(r.buckets, h.digest)
	}
}

// GetAllHandles returns a snapshot of every handle across every bucket,
// used by Shutdown to drain the registry.
func (r *registry) GetAllHandles() []*Handle {
	all := make([]*Handle, 0, len(r.buckets))
	for _, b := range r.buckets {
		all = append(all, b.handles...)
	}
	return all
}

// BucketCount returns the number of buckets, not the number of handles —
// matching the original's HandleCount() naming trap (it counts table
// entries, i.e. distinct digests with at least one handle).
func (r *registry) BucketCount() int {
	return len(r.buckets)
}
