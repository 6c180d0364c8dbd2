// Package remote is the HTTP client for the remote document store.
//
// The store exposes PocketBase-style REST endpoints: records grouped
// into named collections with list/create/update/delete operations,
// password auth issuing a bearer token, and a health endpoint used as
// the connectivity probe. The client is agnostic to record shape; it
// moves map payloads in and out and leaves field translation to the
// service layer.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// Record is an untyped record as the store returns it.
type Record = map[string]any

// listPerPage is the page size for full-collection fetches.
const listPerPage = 500

// Client talks to the remote store.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	mu    sync.Mutex
	token string
}

// New creates a Client for the store at baseURL.
func New(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// authResponse is the body of a successful auth call.
type authResponse struct {
	Token  string `json:"token"`
	Record Record `json:"record"`
}

// AuthWithPassword authenticates against the users collection and
// stores the issued bearer token for subsequent calls.
func (c *Client) AuthWithPassword(ctx context.Context, identity, password string) error {
	body := map[string]any{"identity": identity, "password": password}
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/api/collections/users/auth-with-password", body, &resp); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	c.setToken(resp.Token)
	return nil
}

// Health checks the store's health endpoint. A nil error means the
// store is reachable; used as the connectivity probe.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

// listResponse is one page of a collection listing.
type listResponse struct {
	Page       int      `json:"page"`
	TotalPages int      `json:"totalPages"`
	Items      []Record `json:"items"`
}

// List fetches every record in the collection, paging as needed.
func (c *Client) List(ctx context.Context, collection string) ([]Record, error) {
	var all []Record
	for page := 1; ; page++ {
		path := fmt.Sprintf("/api/collections/%s/records?page=%d&perPage=%d",
			url.PathEscape(collection), page, listPerPage)
		var resp listResponse
		if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", collection, err)
		}
		all = append(all, resp.Items...)
		if resp.TotalPages == 0 || page >= resp.TotalPages {
			return all, nil
		}
	}
}

// Create inserts a record and returns it as the store stored it,
// including the store-assigned id.
func (c *Client) Create(ctx context.Context, collection string, payload Record) (Record, error) {
	path := "/api/collections/" + url.PathEscape(collection) + "/records"
	var created Record
	if err := c.do(ctx, http.MethodPost, path, payload, &created); err != nil {
		return nil, fmt.Errorf("failed to create %s record: %w", collection, err)
	}
	return created, nil
}

// Update applies a partial payload to the record with the given id.
func (c *Client) Update(ctx context.Context, collection, id string, payload Record) (Record, error) {
	path := fmt.Sprintf("/api/collections/%s/records/%s",
		url.PathEscape(collection), url.PathEscape(id))
	var updated Record
	if err := c.do(ctx, http.MethodPatch, path, payload, &updated); err != nil {
		return nil, fmt.Errorf("failed to update %s record %s: %w", collection, id, err)
	}
	return updated, nil
}

// Delete removes the record with the given id.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	path := fmt.Sprintf("/api/collections/%s/records/%s",
		url.PathEscape(collection), url.PathEscape(id))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to delete %s record %s: %w", collection, id, err)
	}
	return nil
}

// errorResponse is the store's error body shape.
type errorResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// do performs one HTTP round trip, refreshing the auth token first if
// it is close to expiry.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	c.maybeRefreshToken(ctx, path)

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody errorResponse
		data, _ := io.ReadAll(resp.Body)
		if jsonErr := json.Unmarshal(data, &errBody); jsonErr != nil {
			errBody.Message = strconv.Quote(string(data))
		}
		return &Error{Status: resp.StatusCode, Message: errBody.Message, Data: errBody.Data}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Token returns the current bearer token, empty if unauthenticated.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// setToken replaces the stored bearer token.
func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}
