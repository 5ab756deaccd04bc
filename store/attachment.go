package store

import (
	"context"
	"io"
)

// AttachmentFileStore handles offloaded attachment blob storage.
// Implementations can back onto S3, GCS, local filesystem, etc.
// Message rows keep only the returned URI; the blob lives here.
type AttachmentFileStore interface {
	// Upload stores content and returns a URI for later retrieval.
	Upload(ctx context.Context, filename, contentType string, content io.Reader) (uri string, err error)

	// Load returns a reader for the attachment content.
	// Caller is responsible for closing the reader.
	Load(ctx context.Context, uri string) (io.ReadCloser, error)

	// Delete removes the attachment blob from storage.
	Delete(ctx context.Context, uri string) error
}
