// Package client talks to a renderd server over HTTP.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	v1 "mediarender/internal/contracts/render/v1"
)

// DefaultServer is used when neither --server nor RENDER_SERVER is set.
const DefaultServer = "http://localhost:8080"

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Kind    string
	Message string
	Details map[string]any
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("renderd: http %d", e.Status)
	}
	return fmt.Sprintf("renderd: %s: %s", e.Kind, e.Message)
}

// ArtifactInfo is read from the headers of an artifact response.
type ArtifactInfo struct {
	JobID       string
	Filename    string
	ContentType string
	Format      string
	Size        int64
	Duration    float64
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL. hc may be nil; renders can take
// minutes, so callers bound requests with their context rather than a
// client timeout.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// Render runs a synchronous render and copies the artifact into dst.
func (c *Client) Render(ctx context.Context, req v1.RenderRequest, dst io.Writer) (ArtifactInfo, error) {
	res, err := c.do(ctx, http.MethodPost, "/v1/render", req)
	if err != nil {
		return ArtifactInfo{}, err
	}
	defer res.Body.Close()
	return copyArtifact(res, dst)
}

// Submit starts an asynchronous render.
func (c *Client) Submit(ctx context.Context, req v1.RenderRequest) (v1.Job, error) {
	var job v1.Job
	err := c.getJSON(ctx, http.MethodPost, "/v1/jobs", req, &job)
	return job, err
}

func (c *Client) Job(ctx context.Context, id string) (v1.Job, error) {
	var job v1.Job
	err := c.getJSON(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, &job)
	return job, err
}

// Jobs lists recent jobs. Empty status and zero limit use server defaults.
func (c *Client) Jobs(ctx context.Context, status string, limit int) (v1.JobList, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list v1.JobList
	err := c.getJSON(ctx, http.MethodGet, path, nil, &list)
	return list, err
}

// Watch follows a job's event stream, calling fn for every snapshot, and
// returns the terminal one.
func (c *Client) Watch(ctx context.Context, id string, fn func(v1.Job)) (v1.Job, error) {
	res, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id)+"/events", nil)
	if err != nil {
		return v1.Job{}, err
	}
	defer res.Body.Close()

	var (
		last v1.Job
		data strings.Builder
	)
	sc := bufio.NewScanner(res.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			data.WriteString(strings.TrimPrefix(line, "data: "))
		case line == "" && data.Len() > 0:
			var job v1.Job
			if err := json.Unmarshal([]byte(data.String()), &job); err != nil {
				return last, fmt.Errorf("decode job event: %w", err)
			}
			data.Reset()
			last = job
			if fn != nil {
				fn(job)
			}
			if job.Status.Terminal() {
				return job, nil
			}
		}
	}
	if err := sc.Err(); err != nil {
		return last, err
	}
	return last, fmt.Errorf("event stream for %s ended before the job finished", id)
}

// Download fetches a finished job's artifact. The server serves it once.
func (c *Client) Download(ctx context.Context, id string, dst io.Writer) (ArtifactInfo, error) {
	res, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id)+"/artifact", nil)
	if err != nil {
		return ArtifactInfo{}, err
	}
	defer res.Body.Close()
	return copyArtifact(res, dst)
}

// Cancel stops a running job and returns its final record, or forgets a
// finished one and returns nil.
func (c *Client) Cancel(ctx context.Context, id string) (*v1.Job, error) {
	res, err := c.do(ctx, http.MethodDelete, "/v1/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	var job v1.Job
	if err := json.NewDecoder(res.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

func (c *Client) Fonts(ctx context.Context) (v1.FontList, error) {
	var out v1.FontList
	err := c.getJSON(ctx, http.MethodGet, "/v1/fonts", nil, &out)
	return out, err
}

func (c *Client) Formats(ctx context.Context) (v1.FormatList, error) {
	var out v1.FormatList
	err := c.getJSON(ctx, http.MethodGet, "/v1/formats", nil, &out)
	return out, err
}

func (c *Client) Health(ctx context.Context, deep bool) (v1.Health, error) {
	path := "/health"
	if deep {
		path += "?deep=true"
	}
	var out v1.Health
	err := c.getJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) getJSON(ctx context.Context, method, path string, body, out any) error {
	res, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// do sends the request and turns non-2xx responses into *APIError.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res, nil
	}
	defer res.Body.Close()
	return nil, decodeAPIError(res)
}

func decodeAPIError(res *http.Response) error {
	apiErr := &APIError{Status: res.StatusCode}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Kind    string         `json:"kind"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Kind = env.Error.Kind
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func copyArtifact(res *http.Response, dst io.Writer) (ArtifactInfo, error) {
	info := ArtifactInfo{
		JobID:       res.Header.Get(v1.HeaderJobID),
		ContentType: res.Header.Get("Content-Type"),
		Format:      res.Header.Get(v1.HeaderFormat),
	}
	if _, params, err := mime.ParseMediaType(res.Header.Get("Content-Disposition")); err == nil {
		info.Filename = params["filename"]
	}
	info.Size, _ = strconv.ParseInt(res.Header.Get(v1.HeaderSize), 10, 64)
	info.Duration, _ = strconv.ParseFloat(res.Header.Get(v1.HeaderDuration), 64)

	n, err := io.Copy(dst, res.Body)
	if err != nil {
		return info, fmt.Errorf("read artifact: %w", err)
	}
	if info.Size > 0 && n != info.Size {
		return info, fmt.Errorf("artifact truncated: got %d of %d bytes", n, info.Size)
	}
	info.Size = n
	return info, nil
}
