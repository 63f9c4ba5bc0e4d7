package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const maxBodyBytes = 8 << 20

// Client is the HTTP client shared by adapters. It rotates user agents and
// turns non-2xx responses into *HTTPError.
type Client struct {
	http   *http.Client
	agents []string
	next   atomic.Uint32
	now    func() time.Time
}

// NewClient wires an HTTP client; a nil client gets a 30s default timeout.
// Per-attempt deadlines come from the caller's context.
func NewClient(client *http.Client, userAgents []string) *Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if len(userAgents) == 0 {
		userAgents = []string{"PlumFinder/1.0"}
	}
	return &Client{http: client, agents: userAgents, now: time.Now}
}

// UserAgent returns the next agent in rotation.
func (c *Client) UserAgent() string {
	n := c.next.Add(1) - 1
	return c.agents[int(n)%len(c.agents)]
}

// Agents lists every user agent the client may send.
func (c *Client) Agents() []string {
	return append([]string(nil), c.agents...)
}

// Get performs a GET and returns the body of a 2xx response.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, newHTTPError(resp, c.now())
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", rawURL, err)
	}
	return body, nil
}

// GetDocument fetches an HTML page and parses it with goquery.
func (c *Client) GetDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	header := http.Header{}
	header.Set("Accept", "text/html,application/xhtml+xml")
	body, err := c.Get(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, Malformed("parse document", err)
	}
	return doc, nil
}

// GetJSON fetches a JSON document into out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, header http.Header, out any) error {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Accept", "application/json")
	body, err := c.Get(ctx, rawURL, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return Malformed("decode json", err)
	}
	return nil
}

