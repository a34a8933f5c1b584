package storage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BlobStore {
	store, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestBlobStoreSaveAndOpenRoundTrip(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("marksheet body")

	info, err := store.Save("Student_Documents/cse/2020-2021/morning/JohnDoe_CR-001/ssc_marksheet.pdf", bytes.NewReader(payload), false)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), info.Size)
	assert.NotEmpty(t, info.SHA256)

	file, meta, err := store.Open(info.Path)
	require.NoError(t, err)
	defer file.Close()
	got, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, info.Size, meta.Size)
}

func TestBlobStoreIdempotentSameContent(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("same bytes")

	first, err := store.Save("a/b/photo.jpg", bytes.NewReader(payload), false)
	require.NoError(t, err)
	second, err := store.Save("a/b/photo.jpg", bytes.NewReader(payload), false)
	require.NoError(t, err)
	assert.Equal(t, first.SHA256, second.SHA256)
	assert.Equal(t, first.Path, second.Path)
}

func TestBlobStoreRefusesDifferentContent(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("a/b/photo.jpg", bytes.NewReader([]byte("one")), false)
	require.NoError(t, err)
	_, err = store.Save("a/b/photo.jpg", bytes.NewReader([]byte("two")), false)
	assert.ErrorIs(t, err, ErrBlobExists)
}

func TestBlobStoreSuffixPolicy(t *testing.T) {
	store := newTestStore(t)

	first, err := store.Save("a/other_documents/letter.pdf", bytes.NewReader([]byte("one")), true)
	require.NoError(t, err)
	second, err := store.Save("a/other_documents/letter.pdf", bytes.NewReader([]byte("two")), true)
	require.NoError(t, err)
	assert.Equal(t, "a/other_documents/letter.pdf", first.Path)
	assert.Equal(t, "a/other_documents/letter_1.pdf", second.Path)
}

func TestBlobStoreRejectsTraversal(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save("../escape.txt", bytes.NewReader([]byte("x")), false)
	assert.ErrorIs(t, err, ErrUnsafePath)
	_, _, err = store.Open("/etc/passwd")
	assert.ErrorIs(t, err, ErrUnsafePath)
	_, _, err = store.Open("a/../../b")
	assert.ErrorIs(t, err, ErrUnsafePath)
}

func TestBlobStoreOpenMissing(t *testing.T) {
	store := newTestStore(t)
	_, _, err := store.Open("missing/file.pdf")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestBlobStoreStatIntegrity(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("integrity body")
	info, err := store.Save("docs/integrity.pdf", bytes.NewReader(payload), false)
	require.NoError(t, err)

	size, digest, err := store.Stat(info.Path)
	require.NoError(t, err)
	assert.Equal(t, info.Size, size)
	assert.Equal(t, info.SHA256, digest)

	// corrupt the blob on disk, digest must change
	full := filepath.Join(store.BaseDir(), "docs/integrity.pdf")
	require.NoError(t, os.WriteFile(full, []byte("tampered"), 0o644))
	_, tampered, err := store.Stat(info.Path)
	require.NoError(t, err)
	assert.NotEqual(t, info.SHA256, tampered)
}

func TestBlobStoreDeleteIgnoresMissing(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Delete("not/there.pdf"))
}

func TestHashBufferedStream(t *testing.T) {
	digest, size, reader, err := Hash(bytes.NewReader([]byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", digest)
	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), rest)
}
