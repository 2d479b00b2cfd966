package ports

import (
	"context"
	"io"
	"net/url"
)

// ObjectInfo is what a source knows about an input before it is read.
type ObjectInfo struct {
	// Name is a display name, used only for logs.
	Name        string
	ContentType string
	// Size is -1 when the source does not report one.
	Size int64
}

// SourceProvider opens remote render inputs for one URI scheme
// (http, https, gdrive, s3, file).
type SourceProvider interface {
	Provider() string
	Schemes() []string

	// Open starts reading the object at u. The caller closes rc.
	Open(ctx context.Context, u *url.URL) (rc io.ReadCloser, info ObjectInfo, err error)
}
