package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.Open(ctx, "models/missing.vqc")
	require.ErrorIs(t, err, ErrNotFound)

	data := []byte("checkpoint payload")
	require.NoError(t, store.Put(ctx, "models/MNIST_autoencoder.vqc", data))
	require.NoError(t, store.Put(ctx, "models/MNIST_autoencoder.json", []byte("{}")))
	require.NoError(t, store.Put(ctx, "samples/reconstructions_MNIST.png", []byte{0x89}))

	got, err := ReadAll(ctx, store, "models/MNIST_autoencoder.vqc")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	blob, err := store.Open(ctx, "models/MNIST_autoencoder.vqc")
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), blob.Size())
	buf := make([]byte, 7)
	n, err := blob.ReadAt(ctx, buf, 11)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf[:n]))
	n, err = blob.ReadAt(ctx, make([]byte, 4), 100)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
	require.NoError(t, blob.Close())

	// Overwrite in place.
	require.NoError(t, store.Put(ctx, "models/MNIST_autoencoder.vqc", []byte("v2")))
	got, err = ReadAll(ctx, store, "models/MNIST_autoencoder.vqc")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	names, err := store.List(ctx, "models/")
	require.NoError(t, err)
	assert.Equal(t, []string{"models/MNIST_autoencoder.json", "models/MNIST_autoencoder.vqc"}, names)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, store.Delete(ctx, "models/MNIST_autoencoder.json"))
	require.NoError(t, store.Delete(ctx, "models/MNIST_autoencoder.json"))
	_, err = store.Open(ctx, "models/MNIST_autoencoder.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStore_PutCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("abc")
	require.NoError(t, store.Put(ctx, "x", data))
	data[0] = 'z'

	got, err := ReadAll(ctx, store, "x")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestLocalStore(t *testing.T) {
	testStore(t, NewLocalStore(t.TempDir()))
}

func TestLocalStore_LayoutAndEmptyBlob(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewLocalStore(root)

	require.NoError(t, store.Put(ctx, "models/a.vqc", []byte("x")))
	_, err := os.Stat(filepath.Join(root, "models", "a.vqc"))
	require.NoError(t, err)

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Join(root, "models"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, store.Put(ctx, "empty", nil))
	got, err := ReadAll(ctx, store, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "nope"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLocalStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := NewLocalStore(t.TempDir())
	assert.ErrorIs(t, store.Put(ctx, "x", []byte("x")), context.Canceled)
	_, err := store.Open(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
