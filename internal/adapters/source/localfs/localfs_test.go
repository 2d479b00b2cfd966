package localfs

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediarender/internal/pkg/errors"
)

func TestOpen(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "clip.mp4"), []byte("0123456789"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "noext"), []byte("GIF89a......"), 0o644))
	fs := New(root)

	t.Run("extension content type", func(t *testing.T) {
		rc, info, err := fs.Open(context.Background(), &url.URL{Scheme: "file", Path: filepath.Join(root, "clip.mp4")})
		require.NoError(t, err)
		defer rc.Close()

		body, _ := io.ReadAll(rc)
		assert.Equal(t, "0123456789", string(body))
		assert.Equal(t, int64(10), info.Size)
		assert.Equal(t, "video/mp4", info.ContentType)
	})

	t.Run("sniffed content type keeps reader at start", func(t *testing.T) {
		rc, info, err := fs.Open(context.Background(), &url.URL{Scheme: "file", Path: "noext"})
		require.NoError(t, err)
		defer rc.Close()

		assert.Equal(t, "image/gif", info.ContentType)
		body, _ := io.ReadAll(rc)
		assert.Equal(t, "GIF89a......", string(body))
	})

	t.Run("missing", func(t *testing.T) {
		_, _, err := fs.Open(context.Background(), &url.URL{Scheme: "file", Path: "absent.mp4"})
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("outside root", func(t *testing.T) {
		_, _, err := fs.Open(context.Background(), &url.URL{Scheme: "file", Path: "/etc/passwd"})
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("directory", func(t *testing.T) {
		_, _, err := fs.Open(context.Background(), &url.URL{Scheme: "file", Path: root})
		assert.Error(t, err)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		_, _, err := fs.Open(context.Background(), &url.URL{Scheme: "http", Host: "x"})
		assert.Error(t, err)
	})
}
