package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

// ArchiveTextName is the archive entry that holds a hub's text bin
const ArchiveTextName = "ephemeral_text_bin.txt"

// WriteArchive streams a zip of the hub's text and every file in its manifest.
// Objects are copied one at a time so memory use does not grow with hub size.
func (s *service) WriteArchive(ctx context.Context, id string, w io.Writer) error {
	hub, err := s.GetHub(ctx, id)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)

	text, err := zw.CreateHeader(&zip.FileHeader{
		Name:     ArchiveTextName,
		Method:   zip.Deflate,
		Modified: hub.CreatedAt,
	})
	if err != nil {
		return &HubError{HubID: id, Op: "archive", Err: err}
	}
	if _, err := io.WriteString(text, hub.Content); err != nil {
		return &HubError{HubID: id, Op: "archive", Err: err}
	}

	for _, f := range hub.Files {
		if err := s.archiveFile(ctx, zw, f); err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				s.logger.Warn("Manifest entry has no blob, skipping", "hub_id", id, "filename", f.Filename)
				continue
			}
			return &HubError{HubID: id, Op: "archive", Err: err}
		}
	}

	if err := zw.Close(); err != nil {
		return &HubError{HubID: id, Op: "archive", Err: err}
	}
	return nil
}

func (s *service) archiveFile(ctx context.Context, zw *zip.Writer, f FileEntry) error {
	rc, err := s.blobs.Open(ctx, f.StoredKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	name := f.Filename
	if name == ArchiveTextName {
		name = "files/" + name
	}
	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: f.UploadedAt,
	})
	if err != nil {
		return err
	}
	if _, err := io.Copy(entry, rc); err != nil {
		return fmt.Errorf("copy %s: %w", f.Filename, err)
	}
	return nil
}
