package gdrive

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"

	"mediarender/internal/pkg/errors"
)

func TestFileID(t *testing.T) {
	for raw, want := range map[string]string{
		"gdrive://1AbCdEfGhIjK":  "1AbCdEfGhIjK",
		"gdrive://1AbCdEfGhIjK/": "1AbCdEfGhIjK",
		"gdrive://":              "",
	} {
		u, _ := url.Parse(raw)
		assert.Equal(t, want, FileID(u), raw)
	}
	assert.Equal(t, "", FileID(nil))
}

func TestWrapError(t *testing.T) {
	assert.True(t, errors.IsNotFound(wrapError("id", &googleapi.Error{Code: http.StatusNotFound})))
	assert.True(t, errors.IsCode(wrapError("id", &googleapi.Error{Code: http.StatusForbidden}), errors.CodeUnavailable))
	assert.True(t, errors.IsCode(wrapError("id", fmt.Errorf("dial tcp: timeout")), errors.CodeUnavailable))
}
