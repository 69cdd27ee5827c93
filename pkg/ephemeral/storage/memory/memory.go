package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tendant/ephemeral/pkg/ephemeral"
	"github.com/tendant/ephemeral/pkg/ephemeral/presigned"
)

// ErrPresignUnsupported is returned when no signer was configured
var ErrPresignUnsupported = errors.New("memory backend has no signer configured")

type object struct {
	data        []byte
	contentType string
	updatedAt   time.Time
	etag        string
}

// Backend is an in-memory implementation of the ephemeral.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object
	signer  *presigned.Signer
}

// Option configures the memory backend
type Option func(*Backend)

// WithSigner enables presigned URLs served by presigned.Handlers
func WithSigner(signer *presigned.Signer) Option {
	return func(b *Backend) {
		b.signer = signer
	}
}

// New creates a new in-memory storage backend
func New(opts ...Option) *Backend {
	b := &Backend{objects: make(map[string]object)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PutStream reads the whole stream into a staging buffer and only publishes
// it under key once the read has succeeded.
func (b *Backend) PutStream(ctx context.Context, key string, reader io.Reader, contentType string) (int64, error) {
	var staged bytes.Buffer
	n, err := io.Copy(&staged, reader)
	if err != nil {
		return 0, &ephemeral.StorageError{Backend: "memory", Key: key, Op: "put", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return 0, &ephemeral.StorageError{Backend: "memory", Key: key, Op: "put", Err: err}
	}

	sum := md5.Sum(staged.Bytes())

	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[key] = object{
		data:        staged.Bytes(),
		contentType: contentType,
		updatedAt:   time.Now().UTC(),
		etag:        hex.EncodeToString(sum[:]),
	}
	return n, nil
}

func (b *Backend) PresignPut(ctx context.Context, key string, contentType string, ttl time.Duration) (string, error) {
	if b.signer == nil {
		return "", ErrPresignUnsupported
	}
	params := url.Values{}
	if contentType != "" {
		params.Set("content_type", contentType)
	}
	return b.signer.ObjectURL("PUT", key, params, ttl)
}

func (b *Backend) PresignGet(ctx context.Context, key string, downloadName string, ttl time.Duration) (string, error) {
	if b.signer == nil {
		return "", ErrPresignUnsupported
	}
	params := url.Values{}
	if downloadName != "" {
		params.Set("filename", downloadName)
	}
	return b.signer.ObjectURL("GET", key, params, ttl)
}

func (b *Backend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[key]
	if !exists {
		return nil, ephemeral.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (b *Backend) Stat(ctx context.Context, key string) (*ephemeral.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[key]
	if !exists {
		return nil, ephemeral.ErrObjectNotFound
	}
	return &ephemeral.ObjectMeta{
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		UpdatedAt:   obj.updatedAt,
		ETag:        obj.etag,
	}, nil
}

// Delete removes key. Deleting a missing object is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objects, key)
	return nil
}

func (b *Backend) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return fmt.Errorf("refusing to delete with an empty prefix")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			delete(b.objects, key)
		}
	}
	return nil
}

// Keys returns every stored key, for tests and debugging
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		keys = append(keys, key)
	}
	return keys
}

var _ ephemeral.BlobStore = (*Backend)(nil)
