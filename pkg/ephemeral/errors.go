package ephemeral

import (
	"errors"
	"fmt"

	"github.com/tendant/ephemeral/pkg/ephemeral/objectkey"
)

// Error types
var (
	// ErrHubNotFound indicates the hub never existed or has expired.
	// The two cases are indistinguishable to callers.
	ErrHubNotFound = errors.New("hub not found")

	// ErrFileNotFound indicates the hub is alive but has no such file
	ErrFileNotFound = errors.New("file not found")

	// ErrObjectNotFound indicates the blob store holds no object under a key
	ErrObjectNotFound = errors.New("object not found")

	// ErrAlreadyExists indicates a hub ID collision at creation time
	ErrAlreadyExists = errors.New("hub already exists")

	// ErrTooLarge indicates text or file content over the configured limit
	ErrTooLarge = errors.New("content too large")

	// ErrUploadFailed indicates the blob store rejected or lost an upload
	ErrUploadFailed = errors.New("upload failed")

	// ErrCreationExhausted indicates repeated ID collisions at creation time
	ErrCreationExhausted = errors.New("hub id allocation exhausted")

	// ErrUnavailable indicates a backing store could not be reached after retries
	ErrUnavailable = errors.New("service unavailable")

	// ErrInvalidFilename indicates a filename that cannot be used as an object key
	ErrInvalidFilename = objectkey.ErrInvalidFilename

	// ErrInvalidTTL indicates a requested TTL outside the allowed range
	ErrInvalidTTL = errors.New("invalid ttl")

	// ErrInvalidText indicates text content that is not valid UTF-8
	ErrInvalidText = errors.New("text is not valid utf-8")

	// ErrInvalidEvent indicates a client event that may not be relayed
	ErrInvalidEvent = errors.New("invalid event")
)

// HubError represents an error related to a hub operation
type HubError struct {
	HubID string
	Op    string
	Err   error
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub operation %s failed for hub %s: %v", e.Op, e.HubID, e.Err)
}

func (e *HubError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err is an expected, user-facing outcome that
// should not be logged as a failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrHubNotFound) ||
		errors.Is(err, ErrFileNotFound) ||
		errors.Is(err, ErrObjectNotFound) ||
		errors.Is(err, ErrTooLarge) ||
		errors.Is(err, ErrInvalidFilename) ||
		errors.Is(err, ErrInvalidTTL) ||
		errors.Is(err, ErrInvalidText) ||
		errors.Is(err, ErrInvalidEvent)
}
