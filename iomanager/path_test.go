package iomanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryPathLayout(t *testing.T) {
	d := Sum([]byte("http://a/"))
	p := EntryPath("/tmp/cache2", d)
	assert.Equal(t, "/tmp/cache2/entries/"+d.String(), p.String())
}

func TestEnsureCacheTreeAndDoomedPath(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureCacheTree(root))

	p, err := DoomedPath(root)
	require.NoError(t, err)
	assert.False(t, p.Exists())
	assert.Contains(t, p.String(), "doomed")
}

func TestPathOpenCreateThenExisting(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, EnsureCacheTree(root))
	d := Sum([]byte("k"))
	p := EntryPath(root, d)

	f, err := p.Open(OpenCreateIfMissing)
	require.NoError(t, err)
	_, err = f.WriteString("hello")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.True(t, p.Exists())
	assert.EqualValues(t, 5, p.Size())

	f2, err := p.Open(OpenExisting)
	require.NoError(t, err)
	require.NoError(t, f2.Close())
}

func TestPathOpenExistingMissing(t *testing.T) {
	root := t.TempDir()
	p := NewPath(root + "/nope")
	_, err := p.Open(OpenExisting)
	assert.Error(t, err)
}
