package localfs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"mediarender/internal/pkg/errors"
	"mediarender/internal/ports"
)

// LocalFS implements ports.SourceProvider for file:// inputs.
// Only files below root can be opened.
type LocalFS struct {
	root string
}

func New(root string) *LocalFS {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &LocalFS{root: root}
}

func (l *LocalFS) Provider() string  { return "localfs" }
func (l *LocalFS) Schemes() []string { return []string{"file"} }

func (l *LocalFS) Open(ctx context.Context, u *url.URL) (io.ReadCloser, ports.ObjectInfo, error) {
	if u == nil || u.Scheme != "file" {
		return nil, ports.ObjectInfo{}, fmt.Errorf("localfs: unsupported uri %v", u)
	}

	p, err := l.resolve(u.Path)
	if err != nil {
		return nil, ports.ObjectInfo{}, err
	}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ports.ObjectInfo{}, errors.NotFound("file", u.Path)
		}
		return nil, ports.ObjectInfo{}, err
	}

	info := ports.ObjectInfo{Name: filepath.Base(p), Size: -1}
	st, statErr := f.Stat()
	if statErr == nil {
		if !st.Mode().IsRegular() {
			f.Close()
			return nil, ports.ObjectInfo{}, errors.Validationf("%s is not a regular file", u.Path)
		}
		info.Size = st.Size()
	}

	// Prefer extension-based type. If empty, sniff first bytes.
	info.ContentType = mime.TypeByExtension(filepath.Ext(p))
	if info.ContentType == "" {
		buf := make([]byte, 512)
		n, _ := f.Read(buf)
		_, _ = f.Seek(0, io.SeekStart)
		info.ContentType = http.DetectContentType(buf[:n])
	}

	return f, info, nil
}

func (l *LocalFS) resolve(p string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(p))
	if !filepath.IsAbs(clean) {
		clean = filepath.Join(l.root, clean)
	}
	rel, err := filepath.Rel(l.root, clean)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Validationf("%s is outside the media root", p)
	}
	return clean, nil
}
