package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/campaignflow/internal/checkpoint"
	"github.com/example/campaignflow/internal/domain"
	"github.com/example/campaignflow/internal/endpoint"
	"github.com/example/campaignflow/internal/storage"
)

// Client implements checkpoint.Transport over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

var _ checkpoint.Transport = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return checkpoint.TransportHTTP }

func (c *Client) checkpointURL(key domain.CheckpointKey, suffix string) string {
	q := url.Values{}
	if key.Namespace != "" {
		q.Set(paramNamespace, key.Namespace)
	}
	if key.CheckpointID != "" {
		q.Set(paramCheckpointID, key.CheckpointID)
	}
	u := c.baseURL + "/v1/checkpoints/" + url.PathEscape(key.RunID) + suffix
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// do sends a request and decodes a 2xx JSON body into out when non-nil.
func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e); err != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return endpoint.FromHTTP(resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, u, err)
	}
	return nil
}

func (c *Client) Get(ctx context.Context, key domain.CheckpointKey) (*domain.CheckpointRecord, error) {
	var rec domain.CheckpointRecord
	if err := c.do(ctx, http.MethodGet, c.checkpointURL(key, ""), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) Put(ctx context.Context, rec *domain.CheckpointRecord) error {
	return c.do(ctx, http.MethodPut, c.checkpointURL(domain.CheckpointKey{RunID: rec.Key.RunID}, ""), rec, nil)
}

func (c *Client) List(ctx context.Context, opts storage.ListOptions) ([]*domain.CheckpointRecord, error) {
	u := c.baseURL + "/v1/checkpoints"
	if q := listOptionsToQuery(opts); len(q) > 0 {
		u += "?" + q.Encode()
	}

	var resp ListCheckpointsResponse
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *Client) AppendWrites(ctx context.Context, entry *domain.WriteLogEntry) error {
	return c.do(ctx, http.MethodPost, c.checkpointURL(domain.CheckpointKey{RunID: entry.Key.RunID}, "/writes"), entry, nil)
}

func (c *Client) ListWrites(ctx context.Context, key domain.CheckpointKey) ([]*domain.WriteLogEntry, error) {
	var resp ListWritesResponse
	if err := c.do(ctx, http.MethodGet, c.checkpointURL(key, "/writes"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}
