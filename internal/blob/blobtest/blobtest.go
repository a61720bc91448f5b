// Package blobtest holds the behaviour every blob.Store driver must share.
package blobtest

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pitchtime/internal/blob"
)

// Run exercises put/get/head/list semantics against a fresh, empty store.
func Run(t *testing.T, st blob.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing keys wrap ErrNotFound", func(t *testing.T) {
		_, err := st.Head(ctx, "schedules/session999.json")
		assert.ErrorIs(t, err, blob.ErrNotFound)
		_, _, err = st.Get(ctx, "schedules/session999.json")
		assert.ErrorIs(t, err, blob.ErrNotFound)
	})

	t.Run("put then get", func(t *testing.T) {
		info, err := st.Put(ctx, "schedules/session1.json", bytes.NewReader([]byte(`[[[4,"+",0]]]`)),
			blob.PutOptions{ContentType: "application/json"})
		require.NoError(t, err)
		assert.Equal(t, "schedules/session1.json", info.Key)
		assert.EqualValues(t, 13, info.Size)

		got, rc, err := st.Get(ctx, "schedules/session1.json")
		require.NoError(t, err)
		defer rc.Close()
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, `[[[4,"+",0]]]`, string(body))
		assert.Equal(t, "application/json", got.ContentType)

		head, err := st.Head(ctx, "schedules/session1.json")
		require.NoError(t, err)
		assert.EqualValues(t, 13, head.Size)
	})

	t.Run("put refuses overwrite unless asked", func(t *testing.T) {
		_, err := st.Put(ctx, "schedules/session2.json", bytes.NewReader([]byte("[]")), blob.PutOptions{})
		require.NoError(t, err)
		_, err = st.Put(ctx, "schedules/session2.json", bytes.NewReader([]byte("[[]]")), blob.PutOptions{})
		assert.ErrorIs(t, err, blob.ErrExists)

		_, err = st.Put(ctx, "schedules/session2.json", bytes.NewReader([]byte("[[]]")), blob.PutOptions{Overwrite: true})
		require.NoError(t, err)
		_, rc, err := st.Get(ctx, "schedules/session2.json")
		require.NoError(t, err)
		defer rc.Close()
		body, _ := io.ReadAll(rc)
		assert.Equal(t, "[[]]", string(body))
	})

	t.Run("list filters by prefix in key order", func(t *testing.T) {
		_, err := st.Put(ctx, "stimuli/sequence_A4+_500_0.wav", bytes.NewReader([]byte("RIFF")), blob.PutOptions{})
		require.NoError(t, err)

		infos, err := st.List(ctx, "schedules/")
		require.NoError(t, err)
		keys := make([]string, 0, len(infos))
		for _, in := range infos {
			keys = append(keys, in.Key)
		}
		assert.Equal(t, []string{"schedules/session1.json", "schedules/session2.json"}, keys)

		all, err := st.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}
