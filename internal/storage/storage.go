// Package storage defines the blob store abstraction used to serve
// per-domain well-known files. Backends live in the gcs, local and memory
// subpackages.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned by GetObject when no object exists at the path.
var ErrNotFound = errors.New("object not found")

// Object is a stored blob with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// BlobStore reads and writes objects by slash-separated path.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (Object, error)
}

// WellKnownPath builds the object path for a domain's well-known file.
func WellKnownPath(prefix, domain, file string) string {
	return path.Join(strings.Trim(prefix, "/"), strings.ToLower(domain), file)
}
