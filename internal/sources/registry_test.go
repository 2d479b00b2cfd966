package sources

import (
	"context"
	"io"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediarender/internal/config"
	"mediarender/internal/pkg/errors"
	"mediarender/internal/ports"
)

type stubProvider struct {
	name    string
	schemes []string
	opened  []string
}

func (s *stubProvider) Provider() string  { return s.name }
func (s *stubProvider) Schemes() []string { return s.schemes }
func (s *stubProvider) Open(_ context.Context, u *url.URL) (io.ReadCloser, ports.ObjectInfo, error) {
	s.opened = append(s.opened, u.String())
	return io.NopCloser(strings.NewReader(s.name)), ports.ObjectInfo{Name: s.name, Size: int64(len(s.name))}, nil
}

func TestRegistryDispatch(t *testing.T) {
	web := &stubProvider{name: "web", schemes: []string{"http", "https"}}
	bucket := &stubProvider{name: "bucket", schemes: []string{"S3"}}
	reg := NewRegistry(web, bucket)

	assert.True(t, reg.Supports("HTTPS"))
	assert.True(t, reg.Supports("s3"))
	assert.False(t, reg.Supports("gdrive"))
	assert.Equal(t, []string{"http", "https", "s3"}, reg.Schemes())

	u, _ := url.Parse("s3://b/k")
	rc, info, err := reg.Open(context.Background(), u)
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "bucket", info.Name)
	assert.Equal(t, []string{"s3://b/k"}, bucket.opened)

	u, _ = url.Parse("gdrive://abc")
	_, _, err = reg.Open(context.Background(), u)
	assert.True(t, errors.IsValidation(err))

	var nilReg *Registry
	assert.False(t, nilReg.Supports("http"))
}

func TestBuildDefaults(t *testing.T) {
	cfg := &config.Config{Media: config.MediaConfig{Root: t.TempDir()}}
	reg, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"file", "http", "https"}, reg.Schemes())
}
