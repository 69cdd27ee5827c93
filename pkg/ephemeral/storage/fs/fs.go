package fs

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/ephemeral/pkg/ephemeral"
	"github.com/tendant/ephemeral/pkg/ephemeral/presigned"
)

const tempPattern = ".upload-*"

// ErrPresignUnsupported is returned when no signer was configured
var ErrPresignUnsupported = errors.New("filesystem backend has no signer configured")

// Backend is a filesystem implementation of the ephemeral.BlobStore interface.
// Objects are committed with a rename, so a reader never sees a partial file.
type Backend struct {
	baseDir string
	signer  *presigned.Signer
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
	Signer  *presigned.Signer
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	abs, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	return &Backend{baseDir: abs, signer: config.Signer}, nil
}

// PutStream writes to a temporary file next to the target and renames it
// into place once the stream has been fully read and synced.
func (b *Backend) PutStream(ctx context.Context, key string, reader io.Reader, contentType string) (int64, error) {
	target, err := b.path(key)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, b.wrap("put", key, err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return 0, b.wrap("put", key, err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	n, err := io.Copy(tmp, reader)
	if err != nil {
		return 0, b.wrap("put", key, err)
	}
	if err := ctx.Err(); err != nil {
		return 0, b.wrap("put", key, err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, b.wrap("put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, b.wrap("put", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, b.wrap("put", key, err)
	}
	committed = true
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
	target, err := b.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ephemeral.ErrObjectNotFound
	}
	if err != nil {
		return nil, b.wrap("open", key, err)
	}
	return f, nil
}

// Stat reports size and modification time from the file itself. The content
// type is not persisted: it is derived from the extension, falling back to
// sniffing the first bytes.
func (b *Backend) Stat(ctx context.Context, key string) (*ephemeral.ObjectMeta, error) {
	target, err := b.path(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ephemeral.ErrObjectNotFound
	}
	if err != nil {
		return nil, b.wrap("stat", key, err)
	}
	if info.IsDir() {
		return nil, ephemeral.ErrObjectNotFound
	}

	contentType := mime.TypeByExtension(filepath.Ext(target))
	if contentType == "" {
		contentType = "application/octet-stream"
		if file, err := os.Open(target); err == nil {
			defer file.Close()
			buffer := make([]byte, 512)
			if n, err := file.Read(buffer); err == nil {
				contentType = http.DetectContentType(buffer[:n])
			}
		}
	}

	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d:%d", key, info.Size(), info.ModTime().UnixNano())))
	return &ephemeral.ObjectMeta{
		Key:         key,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
		ETag:        hex.EncodeToString(sum[:]),
	}, nil
}

// Delete removes key. Deleting a missing object is not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	target, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return b.wrap("delete", key, err)
	}
	return nil
}

// DeletePrefix removes every object whose key starts with prefix. A prefix
// ending in "/" names a directory, which is removed in one call.
func (b *Backend) DeletePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return errors.New("refusing to delete with an empty prefix")
	}

	if strings.HasSuffix(prefix, "/") {
		dir, err := b.path(strings.TrimSuffix(prefix, "/"))
		if err != nil {
			return err
		}
		if err := os.RemoveAll(dir); err != nil {
			return b.wrap("delete_prefix", prefix, err)
		}
		return nil
	}

	return filepath.WalkDir(b.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.baseDir, path)
		if err != nil {
			return err
		}
		if strings.HasPrefix(filepath.ToSlash(rel), prefix) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return b.wrap("delete_prefix", prefix, err)
			}
		}
		return nil
	})
}

// path maps a key to a file under baseDir, rejecting keys that escape it.
func (b *Backend) path(key string) (string, error) {
	if key == "" {
		return "", b.wrap("resolve", key, errors.New("empty key"))
	}
	target := filepath.Join(b.baseDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(b.baseDir, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", b.wrap("resolve", key, errors.New("key escapes base directory"))
	}
	return target, nil
}

func (b *Backend) wrap(op, key string, err error) error {
	return &ephemeral.StorageError{Backend: "fs", Key: key, Op: op, Err: err}
}

var _ ephemeral.BlobStore = (*Backend)(nil)
