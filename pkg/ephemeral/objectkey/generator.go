package objectkey

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxFilenameBytes bounds the length of a filename used in an object key
const MaxFilenameBytes = 255

// ErrInvalidFilename is returned for filenames that cannot be stored
var ErrInvalidFilename = errors.New("invalid filename")

// Generator defines the interface for object key generation strategies.
// Keys must be deterministic in (hubID, filename) and every key for a hub
// must start with Prefix(hubID).
type Generator interface {
	// Key returns the object key for a file in a hub
	Key(hubID, filename string) string

	// Prefix returns the namespace that holds every object of a hub
	Prefix(hubID string) string
}

// HubScopedGenerator stores objects directly under the hub ID.
// Layout: {hubID}/{filename}
type HubScopedGenerator struct{}

func NewHubScopedGenerator() *HubScopedGenerator {
	return &HubScopedGenerator{}
}

func (g *HubScopedGenerator) Key(hubID, filename string) string {
	return fmt.Sprintf("%s/%s", hubID, filename)
}

func (g *HubScopedGenerator) Prefix(hubID string) string {
	return hubID + "/"
}

// NamespacedGenerator adds a fixed root so a bucket can be shared with other
// data. Layout: {root}/{hubID}/{filename}
type NamespacedGenerator struct {
	Root string
}

func NewNamespacedGenerator(root string) *NamespacedGenerator {
	return &NamespacedGenerator{Root: strings.Trim(root, "/")}
}

func (g *NamespacedGenerator) Key(hubID, filename string) string {
	return g.Prefix(hubID) + filename
}

func (g *NamespacedGenerator) Prefix(hubID string) string {
	if g.Root == "" {
		return hubID + "/"
	}
	return fmt.Sprintf("%s/%s/", g.Root, hubID)
}

// ValidateFilename rejects names that would escape the hub namespace or
// collide after normalization. Names are never rewritten: two distinct
// uploads must map to two distinct keys.
func ValidateFilename(filename string) error {
	switch {
	case filename == "", filename == ".", filename == "..":
		return ErrInvalidFilename
	case len(filename) > MaxFilenameBytes:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidFilename, MaxFilenameBytes)
	case !utf8.ValidString(filename):
		return fmt.Errorf("%w: not valid utf-8", ErrInvalidFilename)
	case strings.ContainsAny(filename, "/\\\x00"):
		return fmt.Errorf("%w: contains a path separator", ErrInvalidFilename)
	}
	for _, r := range filename {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: contains a control character", ErrInvalidFilename)
		}
	}
	return nil
}

// NewRecommendedGenerator returns the recommended generator for new installations
func NewRecommendedGenerator() Generator {
	return NewHubScopedGenerator()
}
