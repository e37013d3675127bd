package iomanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGetHandleNotAvailable(t *testing.T) {
	r := newRegistry()
	d := Sum([]byte("k"))
	_, err := r.GetHandle(d)
	assert.True(t, Is(err, KindNotAvailable))
}

func TestRegistryNewHandleThenGetHandle(t *testing.T) {
	r := newRegistry()
	d := Sum([]byte("k"))
	h := r.NewHandle(d, "k", NewPath("/tmp/x"), PriorityNormal)

	got, err := r.GetHandle(d)
	require.NoError(t, err)
	assert.Same(t, h, got)
	assert.Equal(t, 1, r.BucketCount())
}

func TestRegistryDoomedHeadMasksBucket(t *testing.T) {
	r := newRegistry()
	d := Sum([]byte("k"))
	h := r.NewHandle(d, "k", NewPath("/tmp/x"), PriorityNormal)
	h.doomed = true

	_, err := r.GetHandle(d)
	assert.True(t, Is(err, KindNotAvailable))
}

func TestRegistryNewHandleAfterDoomReplacesHead(t *testing.T) {
	r := newRegistry()
	d := Sum([]byte("k"))
	h1 := r.NewHandle(d, "k", NewPath("/tmp/x"), PriorityNormal)
	h1.doomed = true

	h2 := r.NewHandle(d, "k", NewPath("/tmp/x"), PriorityNormal)
	got, err := r.GetHandle(d)
	require.NoError(t, err)
	assert.Same(t, h2, got)
	assert.NotSame(t, h1, h2)
}

func TestRegistryNewHandlePanicsOnLiveHead(t *testing.T) {
	r := newRegistry()
	d := Sum([]byte("k"))
	r.NewHandle(d, "k", NewPath("/tmp/x"), PriorityNormal)

	assert.Panics(t, func() {
		r.NewHandle(d, "k", NewPath("/tmp/x"), PriorityNormal)
	})
}

func TestRegistryRemoveHandleDropsEmptyBucket(t *testing.T) {
	r := newRegistry()
	d := Sum([]byte("k"))
	h := r.NewHandle(d, "k", NewPath("/tmp/x"), PriorityNormal)

	r.RemoveHandle(h)
	assert.Equal(t, 0, r.BucketCount())
	_, err := r.GetHandle(d)
	assert.True(t, Is(err, KindNotAvailable))
}

func TestRegistryGetAllHandles(t *testing.T) {
	r := newRegistry()
	d1, d2 := Sum([]byte("a")), Sum([]byte("b"))
	r.NewHandle(d1, "a", NewPath("/tmp/a"), PriorityNormal)
	r.NewHandle(d2, "b", NewPath("/tmp/b"), PriorityNormal)

	assert.Len(t, r.GetAllHandles(), 2)
}
