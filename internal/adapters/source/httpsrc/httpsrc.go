// Package httpsrc fetches render inputs over HTTP(S).
package httpsrc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"mediarender/internal/pkg/errors"
	"mediarender/internal/ports"
)

const userAgent = "renderd/1 (+media fetch)"

// Client implements ports.SourceProvider for http and https URIs.
type Client struct {
	client *http.Client
}

// New returns a client. A nil httpClient gets one without an overall
// timeout; the job deadline bounds each fetch through the context.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   4,
			},
		}
	}
	return &Client{client: httpClient}
}

func (c *Client) Provider() string  { return "http" }
func (c *Client) Schemes() []string { return []string{"http", "https"} }

func (c *Client) Open(ctx context.Context, u *url.URL) (io.ReadCloser, ports.ObjectInfo, error) {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ports.ObjectInfo{}, fmt.Errorf("httpsrc: unsupported uri %v", u)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ports.ObjectInfo{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	res, err := c.client.Do(req)
	if err != nil {
		return nil, ports.ObjectInfo{}, errors.WrapWithCode(err, errors.CodeUnavailable, "httpsrc.open", "fetch failed")
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
		res.Body.Close()
		if res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone {
			return nil, ports.ObjectInfo{}, errors.NotFound("remote input", u.Redacted())
		}
		return nil, ports.ObjectInfo{}, errors.Newf(errors.CodeUnavailable, "remote input http %d", res.StatusCode)
	}

	return res.Body, ports.ObjectInfo{
		Name:        path.Base(u.Path),
		ContentType: res.Header.Get("Content-Type"),
		Size:        res.ContentLength,
	}, nil
}
