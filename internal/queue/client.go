package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/NplusM420/think-marketplace/internal/listing"
	"github.com/NplusM420/think-marketplace/internal/session"
)

const defaultTimeout = 15 * time.Second

// APIError is a non-2xx response from the admin API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("admin api: %s", http.StatusText(e.Status))
	}
	return fmt.Sprintf("admin api: %s", e.Message)
}

// Unwrap maps the status back onto the server's error taxonomy so callers
// can use errors.Is on either side of the wire.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return session.ErrUnauthorized
	case http.StatusNotFound:
		return listing.ErrNotFound
	case http.StatusConflict:
		return listing.ErrInvalidTransition
	case http.StatusServiceUnavailable:
		return listing.ErrTransientIO
	}
	return nil
}

// HTTPClient talks to the admin API. The session cookie set by Login is kept
// in a cookie jar and sent on every later call.
type HTTPClient struct {
	base *url.URL
	http *http.Client
}

// NewHTTPClient targets the server at baseURL.
func NewHTTPClient(baseURL string) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &HTTPClient{
		base: base,
		http: &http.Client{Jar: jar, Timeout: defaultTimeout},
	}, nil
}

// Status reports whether the client holds a live session.
func (c *HTTPClient) Status(ctx context.Context) (bool, error) {
	var out struct {
		Authenticated bool `json:"authenticated"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin", nil, &out); err != nil {
		return false, err
	}
	return out.Authenticated, nil
}

// Login exchanges the admin code for a session cookie.
func (c *HTTPClient) Login(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodPost, "/admin", map[string]string{"code": code}, nil)
}

// Logout ends the session.
func (c *HTTPClient) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/admin", nil, nil)
}

// Pending fetches the review queue.
func (c *HTTPClient) Pending(ctx context.Context) ([]listing.Listing, error) {
	var out struct {
		Listings []listing.Listing `json:"listings"`
	}
	if err := c.do(ctx, http.MethodGet, "/admin/pending", nil, &out); err != nil {
		return nil, err
	}
	if out.Listings == nil {
		out.Listings = []listing.Listing{}
	}
	return out.Listings, nil
}

// Stats fetches listing counts per review state.
func (c *HTTPClient) Stats(ctx context.Context) (listing.Counts, error) {
	var out listing.Counts
	err := c.do(ctx, http.MethodGet, "/admin/stats", nil, &out)
	return out, err
}

// Approve approves a pending listing.
func (c *HTTPClient) Approve(ctx context.Context, id string, visibility listing.Visibility) (*listing.Listing, error) {
	var out listing.Listing
	body := map[string]string{"visibility": string(visibility)}
	if err := c.do(ctx, http.MethodPost, "/admin/listings/"+url.PathEscape(id)+"/approve", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reject rejects a pending listing.
func (c *HTTPClient) Reject(ctx context.Context, id, reason string) (*listing.Listing, error) {
	var out listing.Listing
	body := map[string]string{"reason": reason}
	if err := c.do(ctx, http.MethodPost, "/admin/listings/"+url.PathEscape(id)+"/reject", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
