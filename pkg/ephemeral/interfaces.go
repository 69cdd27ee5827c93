package ephemeral

import (
	"context"
	"io"
	"time"
)

// MetadataStore defines the interface for TTL-bounded hub metadata persistence.
//
// The store's native expiry is authoritative: once a record's TTL elapses,
// Get, UpdateText and AppendFile must all report ErrHubNotFound.
type MetadataStore interface {
	// Create stores a new hub atomically, returning ErrAlreadyExists if the ID is taken
	Create(ctx context.Context, hub *Hub, ttl time.Duration) error

	// Get returns the hub with its file manifest
	Get(ctx context.Context, id string) (*Hub, error)

	// UpdateText replaces the hub's text content without touching its TTL
	UpdateText(ctx context.Context, id string, content string) error

	// AppendFile adds a manifest entry, replacing any entry with the same filename
	AppendFile(ctx context.Context, id string, entry FileEntry) error

	// RemoveFile drops the manifest entry for filename. A missing entry is not an error.
	RemoveFile(ctx context.Context, id string, filename string) error

	// ScheduleCleanup registers a hub for orphaned-blob cleanup at the given time
	ScheduleCleanup(ctx context.Context, id string, at time.Time) error

	// DueForCleanup returns up to limit hub IDs whose cleanup time has passed
	DueForCleanup(ctx context.Context, now time.Time, limit int) ([]string, error)

	// CompleteCleanup removes a hub from the cleanup index. It returns true only
	// for the single caller that actually removed the entry.
	CompleteCleanup(ctx context.Context, id string) (bool, error)

	// Ping verifies connectivity to the store
	Ping(ctx context.Context) error
}

// BlobStore defines the interface for file payload storage backends
type BlobStore interface {
	// PutStream streams content into key. A failed upload leaves no visible object.
	PutStream(ctx context.Context, key string, reader io.Reader, contentType string) (int64, error)

	// PresignPut returns a credential-free URL for uploading to key
	PresignPut(ctx context.Context, key string, contentType string, ttl time.Duration) (string, error)

	// PresignGet returns a credential-free URL for downloading key
	PresignGet(ctx context.Context, key string, downloadName string, ttl time.Duration) (string, error)

	// Open streams a committed object
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns metadata for a committed object, or ErrObjectNotFound
	Stat(ctx context.Context, key string) (*ObjectMeta, error)

	// Delete removes a single object
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object whose key starts with prefix
	DeletePrefix(ctx context.Context, prefix string) error
}

// EventPublisher delivers hub change events to live viewers
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Metrics receives engine-level counters
type Metrics interface {
	HubCreated()
	IDCollision()
	CreationExhausted()
	FileUploaded(size int64)
	OrphansReclaimed(n int)
}
