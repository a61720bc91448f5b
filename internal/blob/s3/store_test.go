package s3

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pitchtime/internal/blob"
	"github.com/roach88/pitchtime/internal/blob/blobtest"
)

func TestStore_Conformance(t *testing.T) {
	blobtest.Run(t, NewMockForTests())
}

func TestStore_PresignURL(t *testing.T) {
	st := NewMockForTests()
	ctx := context.Background()

	u, err := st.PresignURL(ctx, "stimuli/sequence_A4+_500_0.wav", blob.SignedURLOptions{Expiry: time.Minute})
	require.NoError(t, err)
	assert.Contains(t, u, "mock-bucket/stimuli/sequence_A4")
	assert.Contains(t, u, "X-Amz-Expires=60")

	_, err = st.PresignURL(ctx, "k", blob.SignedURLOptions{Method: "PUT"})
	assert.ErrorIs(t, err, blob.ErrUnsupported)
}

func TestDecodeChunked(t *testing.T) {
	body, ok := decodeChunked([]byte("5;chunk-signature=abc\r\nhello\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"))
	require.True(t, ok)
	assert.Equal(t, "hello", string(body))

	_, ok = decodeChunked([]byte("plain body"))
	assert.False(t, ok)
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), blob.S3Config{})
	assert.ErrorContains(t, err, "bucket required")
}
