package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrAPIUnavailable signals that the daemon API endpoint cannot be reached.
var ErrAPIUnavailable = errors.New("daemon API unavailable")

// Client talks to a running daemon's HTTP API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for the daemon bound at the given address. An
// empty bind returns a nil client, which every method treats as unavailable.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Generate submits a new request and returns its acknowledgement.
func (c *Client) Generate(ctx context.Context, workflow string, params json.RawMessage) (GenerateResponse, error) {
	var out GenerateResponse
	err := c.do(ctx, http.MethodPost, "/api/generate", nil, GenerateRequest{Workflow: workflow, Params: params}, &out)
	return out, err
}

// Request fetches one request by id. A nil view means the id is unknown.
func (c *Client) Request(ctx context.Context, id string) (*RequestView, error) {
	var out RequestResponse
	err := c.do(ctx, http.MethodGet, "/api/requests/"+url.PathEscape(id), nil, nil, &out)
	if err != nil {
		var apiErr *StatusError
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &out.Item, nil
}

// Queue lists requests, optionally filtered by status values.
func (c *Client) Queue(ctx context.Context, statuses ...string) ([]RequestView, error) {
	values := url.Values{}
	for _, status := range statuses {
		if trimmed := strings.TrimSpace(status); trimmed != "" {
			values.Add("status", trimmed)
		}
	}
	var out RequestListResponse
	if err := c.do(ctx, http.MethodGet, "/api/queue", values, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// ClearQueue removes finished requests, optionally restricted by status.
func (c *Client) ClearQueue(ctx context.Context, statuses ...string) (int64, error) {
	values := url.Values{}
	for _, status := range statuses {
		if trimmed := strings.TrimSpace(status); trimmed != "" {
			values.Add("status", trimmed)
		}
	}
	var out ClearResponse
	if err := c.do(ctx, http.MethodDelete, "/api/queue", values, nil, &out); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

// Pods lists the daemon's tracked pods.
func (c *Client) Pods(ctx context.Context) ([]PodView, error) {
	var out PodListResponse
	if err := c.do(ctx, http.MethodGet, "/api/pods", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Status fetches the daemon status surface.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

// StatusError carries a non-2xx API response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api returned status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("api returned status %d", e.Code)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}

	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var detail struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		return &StatusError{Code: resp.StatusCode, Message: detail.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// IsAPIUnavailable reports whether an error means the daemon is not
// listening, as opposed to the daemon answering with a failure.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}
