package gdrive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"mediarender/internal/pkg/errors"
	"mediarender/internal/ports"
)

// Client implements ports.SourceProvider backed by Google Drive.
// Inputs are addressed as gdrive://<fileId>.
type Client struct {
	srv *drive.Service
}

func NewClient(srv *drive.Service) *Client {
	return &Client{srv: srv}
}

func (c *Client) Provider() string  { return "gdrive" }
func (c *Client) Schemes() []string { return []string{"gdrive"} }

// FileID extracts the Drive file id from a gdrive:// URI.
func FileID(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.Trim(u.Host+u.Path, "/")
}

func (c *Client) Open(ctx context.Context, u *url.URL) (io.ReadCloser, ports.ObjectInfo, error) {
	id := FileID(u)
	if id == "" {
		return nil, ports.ObjectInfo{}, fmt.Errorf("gdrive: missing file id in %v", u)
	}

	meta, err := c.srv.Files.Get(id).
		SupportsAllDrives(true).
		Fields("id", "name", "mimeType", "size").
		Context(ctx).
		Do()
	if err != nil {
		return nil, ports.ObjectInfo{}, wrapError(id, err)
	}

	resp, err := c.srv.Files.Get(id).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, ports.ObjectInfo{}, wrapError(id, err)
	}

	info := ports.ObjectInfo{
		Name:        meta.Name,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}
	if info.ContentType == "" {
		info.ContentType = meta.MimeType
	}
	if info.Size < 0 && meta.Size > 0 {
		info.Size = meta.Size
	}
	return resp.Body, info, nil
}

func wrapError(id string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return errors.NotFound("gdrive file", id)
		case http.StatusUnauthorized, http.StatusForbidden:
			return errors.WrapWithCode(err, errors.CodeUnavailable, "gdrive.open", "drive access denied")
		}
	}
	return errors.WrapWithCode(err, errors.CodeUnavailable, "gdrive.open", "drive download failed")
}
