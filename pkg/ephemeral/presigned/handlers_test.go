package presigned_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/ephemeral/pkg/ephemeral/presigned"
	memorystorage "github.com/tendant/ephemeral/pkg/ephemeral/storage/memory"
)

func setupHandlers(t *testing.T, opts ...presigned.HandlerOption) (*httptest.Server, *memorystorage.Backend) {
	t.Helper()

	signer := presigned.New(presigned.WithSecretKey("0123456789abcdef0123456789abcdef"))
	store := memorystorage.New(memorystorage.WithSigner(signer))

	r := chi.NewRouter()
	presigned.NewHandlers(store, signer, opts...).Mount(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	// Signed URLs are relative, so point them at the test server.
	signerWithBase := presigned.New(
		presigned.WithSecretKey("0123456789abcdef0123456789abcdef"),
		presigned.WithBaseURL(srv.URL),
	)
	return srv, memorystorage.New(memorystorage.WithSigner(signerWithBase))
}

func TestHandlers_UploadThenDownload(t *testing.T) {
	srv, urls := setupHandlers(t)
	ctx := context.Background()

	putURL, err := urls.PresignPut(ctx, "hub0000000/hello world.txt", "text/plain", time.Minute)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(putURL, srv.URL))

	req, err := http.NewRequest(http.MethodPut, putURL, strings.NewReader("hello"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	getURL, err := urls.PresignGet(ctx, "hub0000000/hello world.txt", "hello world.txt", time.Minute)
	require.NoError(t, err)

	resp, err = http.Get(getURL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
}

func TestHandlers_Rejections(t *testing.T) {
	srv, urls := setupHandlers(t, presigned.WithMaxUploadBytes(4))
	ctx := context.Background()

	t.Run("unsigned", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/blobs/hub0000000/a.txt")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("tampered", func(t *testing.T) {
		getURL, err := urls.PresignGet(ctx, "hub0000000/a.txt", "", time.Minute)
		require.NoError(t, err)
		u, _ := url.Parse(getURL)
		u.Path = "/blobs/hub0000000/b.txt"

		resp, err := http.Get(u.String())
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("missing object", func(t *testing.T) {
		getURL, err := urls.PresignGet(ctx, "hub0000000/missing.txt", "", time.Minute)
		require.NoError(t, err)

		resp, err := http.Get(getURL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("too large", func(t *testing.T) {
		putURL, err := urls.PresignPut(ctx, "hub0000000/big.bin", "", time.Minute)
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodPut, putURL, strings.NewReader("more than four bytes"))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})
}
