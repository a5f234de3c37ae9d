// Package remote provides the typed HTTP client for the remote catalog
// service.
//
// The client is a thin gateway: it performs GET/POST/PUT/DELETE against
// the catalog API and translates failures into typed errors. It never
// retries and never caches; retry policy belongs to the sync
// orchestrator, and the local store is the only cache.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultTimeout bounds each request so an unreachable remote degrades to
// a NetworkError instead of hanging.
const DefaultTimeout = 15 * time.Second

// Config holds client configuration.
type Config struct {
	// BaseURL is the catalog service root, e.g. "https://pokeapi.co/api/v2".
	BaseURL string

	// Timeout is the per-request deadline (default: DefaultTimeout).
	Timeout time.Duration

	// HTTPClient overrides the underlying transport. Mainly for tests.
	HTTPClient *http.Client

	// Logger for request activity (default: stderr logger).
	Logger *log.Logger
}

// Client performs typed requests against the remote catalog service.
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
	logger  *log.Logger
}

// New creates a new catalog client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}

	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Get performs a GET request and returns the response body.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// Ping reports whether the remote catalog answers at all. Any HTTP
// response counts as online; only a transport failure counts as offline.
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.Get(ctx, "/")
	if err == nil {
		return true
	}
	var nerr *NetworkError
	return !errors.As(err, &nerr)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Printf("%s %s -> %d", method, path, resp.StatusCode)
		return nil, &RequestError{Method: method, Path: path, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}
