package ephemeral

import (
	"encoding/json"
	"time"
)

// Hub is the root entity: one ephemeral workspace.
type Hub struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
	Files     []FileEntry `json:"files"`
}

// FileEntry describes one uploaded file in a hub's manifest.
type FileEntry struct {
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	StoredKey   string    `json:"stored_key"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// HubSummary is returned when a hub is created.
type HubSummary struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	TextURL   string    `json:"text_url"`
	WSURL     string    `json:"ws_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UploadTicket is a delegated upload target handed to a client.
type UploadTicket struct {
	Filename  string    `json:"filename"`
	Key       string    `json:"key"`
	URL       string    `json:"upload_url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EventType names a live change event.
type EventType string

const (
	EventTextUpdated   EventType = "text_updated"
	EventFileAdded     EventType = "file_added"
	EventPathCompleted EventType = "path_completed"
)

// IsRelayable reports whether clients may originate events of this type.
func (t EventType) IsRelayable() bool {
	return t == EventPathCompleted
}

// Event is a change notification for a single hub.
type Event struct {
	Type    EventType       `json:"type"`
	HubID   string          `json:"hub_id"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// TextPayload is the payload of a text_updated event.
type TextPayload struct {
	Content string `json:"content"`
}

// ObjectMeta contains metadata about a committed object in blob storage
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// Limits bounds what a single hub may hold and how long it may live.
type Limits struct {
	DefaultTTL        time.Duration
	MaxTTL            time.Duration
	MaxTextBytes      int
	MaxFileBytes      int64
	PresignTTL        time.Duration
	MaxRelayBytes     int
	MaxCreateAttempts int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		DefaultTTL:        24 * time.Hour,
		MaxTTL:            7 * 24 * time.Hour,
		MaxTextBytes:      100_000,
		MaxFileBytes:      1 << 30,
		PresignTTL:        15 * time.Minute,
		MaxRelayBytes:     64 << 10,
		MaxCreateAttempts: 5,
	}
}
