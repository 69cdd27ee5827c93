package memory_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/ephemeral/pkg/ephemeral"
	"github.com/tendant/ephemeral/pkg/ephemeral/presigned"
	memorystorage "github.com/tendant/ephemeral/pkg/ephemeral/storage/memory"
)

// failingReader returns some data and then an error
type failingReader struct {
	sent bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("connection reset")
}

func TestMemoryBackend(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()
	testKey := "aB3dE5fG7h/notes.txt"
	testData := "Hello, World! This is test data."

	t.Run("PutStream", func(t *testing.T) {
		n, err := backend.PutStream(ctx, testKey, strings.NewReader(testData), "text/plain")
		require.NoError(t, err)
		assert.Equal(t, int64(len(testData)), n)
	})

	t.Run("Stat", func(t *testing.T) {
		meta, err := backend.Stat(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, testKey, meta.Key)
		assert.Equal(t, int64(len(testData)), meta.Size)
		assert.Equal(t, "text/plain", meta.ContentType)
		assert.NotEmpty(t, meta.ETag)
	})

	t.Run("Open", func(t *testing.T) {
		rc, err := backend.Open(ctx, testKey)
		require.NoError(t, err)
		defer rc.Close()

		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, testData, string(data))
	})

	t.Run("Missing object", func(t *testing.T) {
		_, err := backend.Stat(ctx, "aB3dE5fG7h/missing")
		assert.ErrorIs(t, err, ephemeral.ErrObjectNotFound)

		_, err = backend.Open(ctx, "aB3dE5fG7h/missing")
		assert.ErrorIs(t, err, ephemeral.ErrObjectNotFound)
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		require.NoError(t, backend.Delete(ctx, testKey))
		require.NoError(t, backend.Delete(ctx, testKey))

		_, err := backend.Stat(ctx, testKey)
		assert.ErrorIs(t, err, ephemeral.ErrObjectNotFound)
	})
}

func TestMemoryBackend_FailedStreamLeavesNothing(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()

	_, err := backend.PutStream(ctx, "hub/broken.bin", &failingReader{}, "")
	require.Error(t, err)

	var storageErr *ephemeral.StorageError
	assert.ErrorAs(t, err, &storageErr)

	_, err = backend.Stat(ctx, "hub/broken.bin")
	assert.ErrorIs(t, err, ephemeral.ErrObjectNotFound)
}

func TestMemoryBackend_DeletePrefix(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()

	for _, key := range []string{"abc/1", "abc/2", "abcd/1", "xyz/1"} {
		_, err := backend.PutStream(ctx, key, strings.NewReader("x"), "")
		require.NoError(t, err)
	}

	require.NoError(t, backend.DeletePrefix(ctx, "abc/"))
	assert.ElementsMatch(t, []string{"abcd/1", "xyz/1"}, backend.Keys())

	assert.Error(t, backend.DeletePrefix(ctx, ""))
}

func TestMemoryBackend_Presign(t *testing.T) {
	ctx := context.Background()

	t.Run("without signer", func(t *testing.T) {
		backend := memorystorage.New()
		_, err := backend.PresignPut(ctx, "hub/a.txt", "text/plain", time.Minute)
		assert.ErrorIs(t, err, memorystorage.ErrPresignUnsupported)
	})

	t.Run("with signer", func(t *testing.T) {
		signer := presigned.New(
			presigned.WithSecretKey("0123456789abcdef0123456789abcdef"),
			presigned.WithBaseURL("http://example.test"),
		)
		backend := memorystorage.New(memorystorage.WithSigner(signer))

		put, err := backend.PresignPut(ctx, "hub/a.txt", "text/plain", time.Minute)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(put, "http://example.test/blobs/hub/a.txt?"))
		assert.Contains(t, put, "content_type=text%2Fplain")

		get, err := backend.PresignGet(ctx, "hub/a.txt", "a.txt", time.Minute)
		require.NoError(t, err)
		assert.Contains(t, get, "filename=a.txt")
	})
}
