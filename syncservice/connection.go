// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package syncservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/klauspost/compress/zlib"

	"github.com/wardenhq/warden/lib/netutil"
)

// Anti-forgery headers. A 403 from any stage makes the client fetch a
// token from the xsrf endpoint; the server returns it in
// defaultXSRFHeader and may name a different replay header in
// xsrfHeaderOverride.
const (
	defaultXSRFHeader  = "X-XSRF-TOKEN"
	xsrfHeaderOverride = "X-XSRF-TOKEN-HEADER"
)

// ClientConfig holds configuration for creating a Connection.
type ClientConfig struct {
	// ServerURL is the base URL of the sync server (e.g.,
	// "https://sync.example.com").
	ServerURL string
	// MachineID scopes every stage URL to this host.
	MachineID string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Connection is the HTTP client for the bulk sync protocol. It owns
// the stage URLs, request compression, and the XSRF handshake. Safe
// for concurrent use, though the Manager serializes sync runs anyway.
type Connection struct {
	baseURL    string
	machineID  string
	httpClient *http.Client
	logger     *slog.Logger

	mu         sync.Mutex
	xsrfToken  string
	xsrfHeader string
}

// NewConnection creates a sync server connection.
func NewConnection(config ClientConfig) (*Connection, error) {
	if config.ServerURL == "" {
		return nil, fmt.Errorf("syncservice: ServerURL is required")
	}
	if config.MachineID == "" {
		return nil, fmt.Errorf("syncservice: MachineID is required")
	}

	// Validate the URL structure. We store the string form (with
	// trailing slash stripped) and build stage URLs by concatenation.
	if _, err := url.Parse(config.ServerURL); err != nil {
		return nil, fmt.Errorf("syncservice: invalid ServerURL %q: %w", config.ServerURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Connection{
		baseURL:    strings.TrimRight(config.ServerURL, "/"),
		machineID:  config.MachineID,
		httpClient: httpClient,
		logger:     logger,
		xsrfHeader: defaultXSRFHeader,
	}, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's connection pool. Call this after a network disruption to
// force subsequent requests to establish fresh TCP connections instead
// of reusing a poisoned pooled connection.
func (c *Connection) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

func (c *Connection) stageURL(stage string) string {
	return c.baseURL + "/" + stage + "/" + url.PathEscape(c.machineID)
}

// postJSON runs one JSON stage request. The body is zlib-compressed;
// the server's decoded response lands in responseBody when non-nil.
func (c *Connection) postJSON(ctx context.Context, stage string, requestBody, responseBody any) error {
	encoded, err := json.Marshal(requestBody)
	if err != nil {
		return fmt.Errorf("syncservice: encoding %s request: %w", stage, err)
	}
	compressed, err := deflate(encoded)
	if err != nil {
		return fmt.Errorf("syncservice: compressing %s request: %w", stage, err)
	}

	body, err := c.do(ctx, stage, func() (*http.Request, error) {
		request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.stageURL(stage), bytes.NewReader(compressed))
		if err != nil {
			return nil, err
		}
		request.Header.Set("Content-Type", "application/json")
		request.Header.Set("Content-Encoding", "deflate")
		return request, nil
	})
	if err != nil {
		return err
	}

	if responseBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, responseBody); err != nil {
			return fmt.Errorf("syncservice: parsing %s response: %w", stage, err)
		}
	}
	return nil
}

// do sends the request produced by build, replaying the XSRF token and
// refreshing it once on a 403. build runs once per attempt so the
// retry gets a fresh body reader.
func (c *Connection) do(ctx context.Context, stage string, build func() (*http.Request, error)) ([]byte, error) {
	body, status, err := c.attempt(build)
	if err != nil {
		return nil, fmt.Errorf("syncservice: %s request failed: %w", stage, err)
	}

	if status == http.StatusForbidden {
		if err := c.fetchXSRFToken(ctx); err != nil {
			return nil, fmt.Errorf("syncservice: %s: %w", stage, err)
		}
		body, status, err = c.attempt(build)
		if err != nil {
			return nil, fmt.Errorf("syncservice: %s request failed: %w", stage, err)
		}
	}

	if status < 200 || status >= 300 {
		return nil, &StatusError{StatusCode: status, Message: excerpt(body)}
	}
	return body, nil
}

func (c *Connection) attempt(build func() (*http.Request, error)) ([]byte, int, error) {
	request, err := build()
	if err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	if c.xsrfToken != "" {
		request.Header.Set(c.xsrfHeader, c.xsrfToken)
	}
	c.mu.Unlock()

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, err
	}
	defer response.Body.Close()

	body, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading response body: %w", err)
	}
	return body, response.StatusCode, nil
}

// fetchXSRFToken performs the anti-forgery handshake. The token rides
// on every subsequent request in the header the server named.
func (c *Connection) fetchXSRFToken(ctx context.Context) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.stageURL("xsrf"), nil)
	if err != nil {
		return fmt.Errorf("creating xsrf request: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("xsrf request failed: %w", err)
	}
	defer response.Body.Close()
	body, _ := netutil.ReadResponse(response.Body)

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &StatusError{StatusCode: response.StatusCode, Message: excerpt(body)}
	}

	token := response.Header.Get(defaultXSRFHeader)
	if token == "" {
		return fmt.Errorf("xsrf response carries no token")
	}
	header := response.Header.Get(xsrfHeaderOverride)
	if header == "" {
		header = defaultXSRFHeader
	}

	c.mu.Lock()
	c.xsrfToken = token
	c.xsrfHeader = header
	c.mu.Unlock()

	c.logger.Debug("fetched xsrf token", "header", header)
	return nil
}

// deflate zlib-compresses a request body.
func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := zlib.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// excerpt trims an error body for inclusion in error messages.
func excerpt(body []byte) string {
	const max = 300
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
