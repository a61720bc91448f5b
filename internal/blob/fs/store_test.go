package fs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pitchtime/internal/blob"
	"github.com/roach88/pitchtime/internal/blob/blobtest"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(t.TempDir())
	require.NoError(t, err)
	return st
}

func TestStore_Conformance(t *testing.T) {
	blobtest.Run(t, newTempStore(t))
}

func TestStore_PathTraversal(t *testing.T) {
	ctx := context.Background()
	st := newTempStore(t)
	for _, key := range []string{"../escape.txt", "/abs.txt", "a/../../b", "", "x.meta"} {
		_, err := st.Put(ctx, key, bytes.NewReader([]byte("x")), blob.PutOptions{})
		assert.Error(t, err, "key %q", key)
	}
}

func TestStore_ServesFilesWithoutSidecar(t *testing.T) {
	ctx := context.Background()
	st := newTempStore(t)
	dir := filepath.Join(st.Root(), "stimuli")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sequence_A4-_500_75.wav"), []byte("RIFFdata"), 0o644))

	info, err := st.Head(ctx, "stimuli/sequence_A4-_500_75.wav")
	require.NoError(t, err)
	assert.EqualValues(t, 8, info.Size)
	assert.Contains(t, info.ContentType, "wav")

	infos, err := st.List(ctx, "stimuli/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "stimuli/sequence_A4-_500_75.wav", infos[0].Key)
}

func TestStore_DirectoryIsNotABlob(t *testing.T) {
	st := newTempStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(st.Root(), "schedules"), 0o755))
	_, err := st.Head(context.Background(), "schedules")
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestStore_PresignUnsupported(t *testing.T) {
	_, err := newTempStore(t).PresignURL(context.Background(), "k", blob.SignedURLOptions{})
	assert.ErrorIs(t, err, blob.ErrUnsupported)
}
