package processor

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"mediarender/internal/jobspec"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/ports"
)

// SourceOpener opens remote inputs by URI.
type SourceOpener interface {
	Open(ctx context.Context, u *url.URL) (io.ReadCloser, ports.ObjectInfo, error)
}

type InputHandler struct {
	sources  SourceOpener
	maxBytes int64
}

func NewInputHandler(sources SourceOpener, maxBytes int64) *InputHandler {
	return &InputHandler{sources: sources, maxBytes: maxBytes}
}

// Materialize returns a local path for the job input. Local inputs are
// used in place; remote ones are streamed into the workspace.
func (ih *InputHandler) Materialize(ctx context.Context, workspace string, in jobspec.Input) (string, error) {
	if in.IsLocal() {
		return in.Path(), nil
	}
	if ih.sources == nil {
		return "", errors.Newf(errors.CodeRenderFailed, "no source configured for %s inputs", in.Scheme())
	}

	u := in.URI()
	if u == nil {
		return "", errors.Newf(errors.CodeRenderFailed, "input %q is not a URI", in.Ref())
	}

	rc, info, err := ih.sources.Open(ctx, u)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeRenderFailed, "processor.input", "input could not be fetched").
			WithField("input", in.Ref())
	}
	defer rc.Close()

	if ih.maxBytes > 0 && info.Size > ih.maxBytes {
		return "", ih.tooLarge(in)
	}

	name := info.Name
	if name == "" {
		name = u.Path
	}
	dst := filepath.Join(workspace, "input"+inputExt(name, info.ContentType))

	if err := ih.saveToLocal(dst, rc); err != nil {
		if errors.IsCode(err, errors.CodePayloadTooLarge) {
			return "", ih.tooLarge(in)
		}
		return "", errors.WrapWithCode(err, errors.CodeRenderFailed, "processor.input", "input download failed").
			WithField("input", in.Ref())
	}
	return dst, nil
}

func (ih *InputHandler) saveToLocal(dst string, r io.Reader) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	src := r
	if ih.maxBytes > 0 {
		src = io.LimitReader(r, ih.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if ih.maxBytes > 0 && n > ih.maxBytes {
		return errors.New(errors.CodePayloadTooLarge, "input too large")
	}
	return nil
}

func (ih *InputHandler) tooLarge(in jobspec.Input) *errors.Error {
	return errors.New(errors.CodePayloadTooLarge, fmt.Sprintf("input exceeds %d bytes", ih.maxBytes)).
		WithField("input", in.Ref()).
		WithField("limit_bytes", ih.maxBytes)
}
