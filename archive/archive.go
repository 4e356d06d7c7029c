// Package archive copies finished run reports to object storage.
//
// Backends register a Factory under a provider name; import the provider
// package (archive/local, archive/s3, archive/minio) to make it available
// to New.
package archive

import (
	"context"
	"io"
	"time"
)

// FileInfo describes a stored object.
type FileInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Storage is the object store an archive writes to.
type Storage interface {
	// Upload writes data from reader to path.
	Upload(ctx context.Context, path string, reader io.Reader) error

	// Download returns a reader for the object at path. The caller closes it.
	// A missing object yields a NOT_FOUND AppError.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object at path. Missing objects are not an error.
	Delete(ctx context.Context, path string) error

	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns every object whose path starts with prefix, sorted by path.
	List(ctx context.Context, prefix string) ([]FileInfo, error)
}
