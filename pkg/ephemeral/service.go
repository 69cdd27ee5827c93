package ephemeral

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// Service defines the main interface for the hub lifecycle engine
type Service interface {
	// Hub operations
	CreateHub(ctx context.Context, ttl time.Duration) (*HubSummary, error)
	GetHub(ctx context.Context, id string) (*Hub, error)
	SetText(ctx context.Context, id string, content string) error

	// File operations
	UploadFile(ctx context.Context, id, filename, contentType string, reader io.Reader) (*FileEntry, error)
	RequestUpload(ctx context.Context, id, filename, contentType string) (*UploadTicket, error)
	ConfirmUpload(ctx context.Context, id, filename string) (*FileEntry, error)
	ListFiles(ctx context.Context, id string) ([]FileEntry, error)
	DownloadURL(ctx context.Context, id, filename string) (string, error)
	WriteArchive(ctx context.Context, id string, w io.Writer) error

	// Live operations
	Relay(ctx context.Context, id string, kind EventType, payload json.RawMessage) error

	// Maintenance
	SweepExpired(ctx context.Context, limit int) (int, error)
	Limits() Limits
	Ping(ctx context.Context) error
}
