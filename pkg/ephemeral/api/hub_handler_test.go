package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/ephemeral/pkg/ephemeral"
	"github.com/tendant/ephemeral/pkg/ephemeral/api"
	"github.com/tendant/ephemeral/pkg/ephemeral/broadcast"
	"github.com/tendant/ephemeral/pkg/ephemeral/presigned"
	"github.com/tendant/ephemeral/pkg/ephemeral/repo/memory"
	memorystorage "github.com/tendant/ephemeral/pkg/ephemeral/storage/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	srv         *httptest.Server
	broadcaster *broadcast.Broadcaster
	blobs       *memorystorage.Backend
}

func setupServer(t *testing.T, now func() time.Time) *testEnv {
	t.Helper()

	var handler http.Handler
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	signer := presigned.New(
		presigned.WithSecretKey("0123456789abcdef0123456789abcdef"),
		presigned.WithBaseURL(srv.URL),
		presigned.WithClock(now),
	)
	blobs := memorystorage.New(memorystorage.WithSigner(signer))
	b := broadcast.New()

	svc, err := ephemeral.New(
		ephemeral.WithMetadataStore(memory.New(memory.WithClock(now))),
		ephemeral.WithBlobStore(blobs),
		ephemeral.WithPublisher(b),
		ephemeral.WithClock(now),
		ephemeral.WithBaseURL(srv.URL),
	)
	require.NoError(t, err)

	handler = api.NewServer(svc,
		api.WithBroadcaster(b),
		api.WithBlobHandlers(presigned.NewHandlers(blobs, signer)),
	).Routes()

	return &testEnv{srv: srv, broadcaster: b, blobs: blobs}
}

func (e *testEnv) createHub(t *testing.T, body string) ephemeral.HubSummary {
	t.Helper()

	resp, err := http.Post(e.srv.URL+"/hubs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var summary ephemeral.HubSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	return summary
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.srv.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := noRedirectClient.Do(req)
	require.NoError(t, err)
	return resp
}

var noRedirectClient = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}

func decodeError(t *testing.T, resp *http.Response) api.ErrorResponse {
	t.Helper()
	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(readBody(t, resp), &body))
	return body
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	for name, content := range files {
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHubHandler_CreateAndGet(t *testing.T) {
	env := setupServer(t, time.Now)

	summary := env.createHub(t, "")
	assert.True(t, ephemeral.ValidID(summary.ID))
	assert.Equal(t, env.srv.URL+"/hubs/"+summary.ID, summary.URL)
	assert.Equal(t, summary.URL+"/text", summary.TextURL)
	assert.True(t, strings.HasPrefix(summary.WSURL, "ws://"))
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), summary.ExpiresAt, time.Minute)

	resp := env.do(t, http.MethodGet, "/hubs/"+summary.ID, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var hub ephemeral.Hub
	require.NoError(t, json.Unmarshal(readBody(t, resp), &hub))
	assert.Equal(t, summary.ID, hub.ID)
	assert.Empty(t, hub.Content)
	assert.Empty(t, hub.Files)
}

func TestHubHandler_CreateWithTTL(t *testing.T) {
	env := setupServer(t, time.Now)

	summary := env.createHub(t, `{"ttl_seconds": 600}`)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), summary.ExpiresAt, time.Minute)

	tests := []struct {
		name string
		body string
	}{
		{"negative", `{"ttl_seconds": -1}`},
		{"over maximum", fmt.Sprintf(`{"ttl_seconds": %d}`, int64((8 * 24 * time.Hour).Seconds()))},
		{"malformed", `{"ttl_seconds":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/hubs", strings.NewReader(tt.body), "application/json")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "invalid_request", decodeError(t, resp).Error.Code)
		})
	}
}

func TestHubHandler_NotFoundBodiesAreIdentical(t *testing.T) {
	clock := &testClock{now: time.Now()}
	env := setupServer(t, clock.Now)

	expired := env.createHub(t, `{"ttl_seconds": 60}`)
	clock.Advance(61 * time.Second)

	var bodies [][]byte
	for _, id := range []string{expired.ID, "zzzzzzzzzz", "not-an-id!"} {
		resp := env.do(t, http.MethodGet, "/hubs/"+id, nil, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, id)
		bodies = append(bodies, readBody(t, resp))
	}

	assert.Equal(t, bodies[0], bodies[1])
	assert.Equal(t, bodies[0], bodies[2])
	assert.JSONEq(t, `{"error":{"code":"hub_not_found","message":"Hub not found"}}`, string(bodies[0]))

	// Every hub route conflates absent and expired
	resp := env.do(t, http.MethodPut, "/hubs/"+expired.ID+"/text", strings.NewReader("x"), "text/plain")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, bodies[0], readBody(t, resp))
}

func TestHubHandler_SetText(t *testing.T) {
	env := setupServer(t, time.Now)
	hub := env.createHub(t, "")

	resp := env.do(t, http.MethodPut, "/hubs/"+hub.ID+"/text", strings.NewReader("hello, hub"), "text/plain")
	readBody(t, resp)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	t.Run("oversized body leaves content unchanged", func(t *testing.T) {
		resp := env.do(t, http.MethodPut, "/hubs/"+hub.ID+"/text", strings.NewReader(strings.Repeat("a", 150_000)), "text/plain")
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		assert.Equal(t, "too_large", decodeError(t, resp).Error.Code)

		resp = env.do(t, http.MethodGet, "/hubs/"+hub.ID, nil, "")
		var got ephemeral.Hub
		require.NoError(t, json.Unmarshal(readBody(t, resp), &got))
		assert.Equal(t, "hello, hub", got.Content)
	})

	t.Run("exactly at limit", func(t *testing.T) {
		resp := env.do(t, http.MethodPut, "/hubs/"+hub.ID+"/text", strings.NewReader(strings.Repeat("b", 100_000)), "text/plain")
		readBody(t, resp)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("one byte over limit", func(t *testing.T) {
		resp := env.do(t, http.MethodPut, "/hubs/"+hub.ID+"/text", strings.NewReader(strings.Repeat("c", 100_001)), "text/plain")
		readBody(t, resp)
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})

	t.Run("invalid utf-8", func(t *testing.T) {
		resp := env.do(t, http.MethodPut, "/hubs/"+hub.ID+"/text", bytes.NewReader([]byte{0xff, 0xfe}), "text/plain")
		readBody(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHubHandler_UploadListDownload(t *testing.T) {
	env := setupServer(t, time.Now)
	hub := env.createHub(t, "")

	body, contentType := multipartBody(t, map[string]string{"report final.txt": "quarterly numbers"})
	resp := env.do(t, http.MethodPost, "/hubs/"+hub.ID+"/files", body, contentType)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var uploaded []ephemeral.FileEntry
	require.NoError(t, json.Unmarshal(readBody(t, resp), &uploaded))
	require.Len(t, uploaded, 1)
	assert.Equal(t, "report final.txt", uploaded[0].Filename)
	assert.Equal(t, int64(len("quarterly numbers")), uploaded[0].Size)

	resp = env.do(t, http.MethodGet, "/hubs/"+hub.ID+"/files", nil, "")
	var listed []ephemeral.FileEntry
	require.NoError(t, json.Unmarshal(readBody(t, resp), &listed))
	assert.Equal(t, uploaded, listed)

	resp = env.do(t, http.MethodGet, "/hubs/"+hub.ID+"/files/report%20final.txt", nil, "")
	readBody(t, resp)
	require.Equal(t, http.StatusFound, resp.StatusCode)

	location := resp.Header.Get("Location")
	require.True(t, strings.HasPrefix(location, env.srv.URL+"/blobs/"))

	download, err := http.Get(location)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, download.StatusCode)
	assert.Equal(t, "quarterly numbers", string(readBody(t, download)))

	t.Run("percent in filename", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{
			"50%off.txt": "half price",
			"a%41.txt":   "literal escape",
		})
		resp := env.do(t, http.MethodPost, "/hubs/"+hub.ID+"/files", body, contentType)
		readBody(t, resp)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		for path, want := range map[string]string{
			"50%25off.txt": "half price",
			"a%2541.txt":   "literal escape",
		} {
			resp := env.do(t, http.MethodGet, "/hubs/"+hub.ID+"/files/"+path, nil, "")
			readBody(t, resp)
			require.Equal(t, http.StatusFound, resp.StatusCode, path)

			download, err := http.Get(resp.Header.Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, want, string(readBody(t, download)), path)
		}

		// a%41.txt must not resolve to aA.txt
		resp = env.do(t, http.MethodGet, "/hubs/"+hub.ID+"/files/aA.txt", nil, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "file_not_found", decodeError(t, resp).Error.Code)
	})

	t.Run("unknown filename", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/hubs/"+hub.ID+"/files/missing.txt", nil, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "file_not_found", decodeError(t, resp).Error.Code)
	})

	t.Run("no file parts", func(t *testing.T) {
		body, contentType := multipartBody(t, nil)
		resp := env.do(t, http.MethodPost, "/hubs/"+hub.ID+"/files", body, contentType)
		readBody(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("not multipart", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/hubs/"+hub.ID+"/files", strings.NewReader("raw"), "text/plain")
		readBody(t, resp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestHubHandler_DelegatedUpload(t *testing.T) {
	env := setupServer(t, time.Now)
	hub := env.createHub(t, "")

	resp := env.do(t, http.MethodPost, "/hubs/"+hub.ID+"/uploads",
		strings.NewReader(`{"filename":"photo.png","content_type":"image/png"}`), "application/json")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var ticket ephemeral.UploadTicket
	require.NoError(t, json.Unmarshal(readBody(t, resp), &ticket))
	assert.Equal(t, http.MethodPut, ticket.Method)
	assert.Equal(t, hub.ID+"/photo.png", ticket.Key)

	req, err := http.NewRequest(ticket.Method, ticket.URL, strings.NewReader("png bytes"))
	require.NoError(t, err)
	put, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	readBody(t, put)
	require.Equal(t, http.StatusOK, put.StatusCode)

	resp = env.do(t, http.MethodPost, "/hubs/"+hub.ID+"/uploads/photo.png/complete", nil, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var entry ephemeral.FileEntry
	require.NoError(t, json.Unmarshal(readBody(t, resp), &entry))
	assert.Equal(t, "photo.png", entry.Filename)
	assert.Equal(t, int64(len("png bytes")), entry.Size)
	assert.Equal(t, "image/png", entry.ContentType)

	t.Run("complete with percent in filename", func(t *testing.T) {
		_, err := env.blobs.PutStream(context.Background(), hub.ID+"/100%.csv", strings.NewReader("a,b"), "text/csv")
		require.NoError(t, err)

		resp := env.do(t, http.MethodPost, "/hubs/"+hub.ID+"/uploads/100%25.csv/complete", nil, "")
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var entry ephemeral.FileEntry
		require.NoError(t, json.Unmarshal(readBody(t, resp), &entry))
		assert.Equal(t, "100%.csv", entry.Filename)
		assert.Equal(t, int64(3), entry.Size)
	})

	t.Run("complete without upload", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/hubs/"+hub.ID+"/uploads/never.bin/complete", nil, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "file_not_found", decodeError(t, resp).Error.Code)
	})

	t.Run("invalid filename", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/hubs/"+hub.ID+"/uploads",
			strings.NewReader(`{"filename":".."}`), "application/json")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_request", decodeError(t, resp).Error.Code)
	})
}

func TestHubHandler_Archive(t *testing.T) {
	env := setupServer(t, time.Now)
	hub := env.createHub(t, "")

	resp := env.do(t, http.MethodPut, "/hubs/"+hub.ID+"/text", strings.NewReader("shared notes"), "text/plain")
	readBody(t, resp)

	body, contentType := multipartBody(t, map[string]string{"a.txt": "alpha"})
	resp = env.do(t, http.MethodPost, "/hubs/"+hub.ID+"/files", body, contentType)
	readBody(t, resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/hubs/"+hub.ID+"/archive", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "hub-"+hub.ID+".zip")

	data := readBody(t, resp)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	contents := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		contents[f.Name] = string(b)
	}
	assert.Equal(t, map[string]string{
		ephemeral.ArchiveTextName: "shared notes",
		"a.txt":                   "alpha",
	}, contents)

	t.Run("missing hub", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/hubs/zzzzzzzzzz/archive", nil, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "hub_not_found", decodeError(t, resp).Error.Code)
	})
}

func TestServer_Health(t *testing.T) {
	env := setupServer(t, time.Now)

	resp := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(readBody(t, resp)))

	resp = env.do(t, http.MethodGet, "/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, resp).Error.Code)
}
