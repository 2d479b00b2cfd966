package httpsrc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediarender/internal/pkg/errors"
)

func TestOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/clip.mp4":
			assert.Equal(t, userAgent, r.UserAgent())
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("movie"))
		case "/gone.mp4":
			http.NotFound(w, r)
		case "/slow.mp4":
			<-r.Context().Done()
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(srv.Client())
	mustURL := func(p string) *url.URL {
		u, err := url.Parse(srv.URL + p)
		require.NoError(t, err)
		return u
	}

	t.Run("ok", func(t *testing.T) {
		rc, info, err := c.Open(context.Background(), mustURL("/clip.mp4"))
		require.NoError(t, err)
		defer rc.Close()

		body, _ := io.ReadAll(rc)
		assert.Equal(t, "movie", string(body))
		assert.Equal(t, "video/mp4", info.ContentType)
		assert.Equal(t, "clip.mp4", info.Name)
	})

	t.Run("not found", func(t *testing.T) {
		_, _, err := c.Open(context.Background(), mustURL("/gone.mp4"))
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("server error", func(t *testing.T) {
		_, _, err := c.Open(context.Background(), mustURL("/broken.mp4"))
		assert.True(t, errors.IsCode(err, errors.CodeUnavailable))
	})

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, _, err := c.Open(ctx, mustURL("/slow.mp4"))
		assert.Error(t, err)
	})

	t.Run("scheme", func(t *testing.T) {
		_, _, err := c.Open(context.Background(), &url.URL{Scheme: "ftp", Host: "x"})
		assert.Error(t, err)
	})
}
