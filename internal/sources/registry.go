// Package sources routes remote render inputs to the provider serving
// their URI scheme.
package sources

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"mediarender/internal/pkg/errors"
	"mediarender/internal/ports"
)

// Registry maps URI schemes to providers. It is built once at startup
// and read concurrently afterwards.
type Registry struct {
	byScheme map[string]ports.SourceProvider
}

func NewRegistry(providers ...ports.SourceProvider) *Registry {
	r := &Registry{byScheme: make(map[string]ports.SourceProvider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p for all of its schemes, replacing earlier registrations.
func (r *Registry) Register(p ports.SourceProvider) {
	for _, s := range p.Schemes() {
		r.byScheme[strings.ToLower(s)] = p
	}
}

// Supports reports whether inputs with scheme can be fetched.
func (r *Registry) Supports(scheme string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byScheme[strings.ToLower(scheme)]
	return ok
}

// Schemes lists registered schemes, sorted.
func (r *Registry) Schemes() []string {
	out := make([]string, 0, len(r.byScheme))
	for s := range r.byScheme {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Open dispatches to the provider for u's scheme.
func (r *Registry) Open(ctx context.Context, u *url.URL) (io.ReadCloser, ports.ObjectInfo, error) {
	if u == nil {
		return nil, ports.ObjectInfo{}, fmt.Errorf("sources: nil uri")
	}
	p, ok := r.byScheme[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, ports.ObjectInfo{}, errors.Validationf("no source registered for scheme %q", u.Scheme)
	}
	return p.Open(ctx, u)
}
