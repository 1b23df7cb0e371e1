package mgmt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/samber/lo"
)

// Client is a typed JSON client for the management endpoints.
type Client struct {
	url    string
	client *http.Client
	header http.Header
}

type ClientOpt func(*Client)

// HTTPClient sets the HTTP client used for requests.
func HTTPClient(hc *http.Client) ClientOpt {
	return func(c *Client) { c.client = hc }
}

// Header adds a header included in all requests.
func Header(k, v string) ClientOpt {
	return func(c *Client) { c.header.Add(k, v) }
}

// NewClient returns a client for a management server at url.
func NewClient(url string, opts ...ClientOpt) *Client {
	c := &Client{
		url:    url,
		client: &http.Client{},
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do performs one request, parsing a JSON response into respBody when it is
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, respBody interface{}, okCodes ...int) error {
	url := c.url + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("%s: NewRequestWithContext: %w", url, err)
	}
	req.Header = c.header.Clone()

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: client.Do: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if !lo.Contains(okCodes, resp.StatusCode) {
		bs, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: client.Do: status %d (%q)", url, resp.StatusCode, string(bs))
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("%s: parse response: %w", url, err)
		}
	}
	return nil
}

// Stats fetches the pool gauges and metrics.
func (c *Client) Stats(ctx context.Context) (*StatsResp, error) {
	var stats StatsResp
	if err := c.do(ctx, "GET", "/stats", &stats, http.StatusOK); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SoftEvictAll asks the pool to retire every current handle.
func (c *Client) SoftEvictAll(ctx context.Context) error {
	return c.do(ctx, "POST", "/evict", nil, http.StatusOK)
}

// Suspend quiesces the pool.
func (c *Client) Suspend(ctx context.Context) error {
	return c.do(ctx, "POST", "/suspend", nil, http.StatusOK)
}

// Resume reopens a suspended pool.
func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, "POST", "/resume", nil, http.StatusOK)
}
