// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package syncservice

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
)

// newTestConnection creates a Connection pointed at a test server.
func newTestConnection(t *testing.T, serverURL string) *Connection {
	t.Helper()
	conn, err := NewConnection(ClientConfig{
		ServerURL: serverURL,
		MachineID: "machine-1",
	})
	if err != nil {
		t.Fatalf("NewConnection failed: %v", err)
	}
	return conn
}

// decodeStageBody decompresses and decodes a stage request body into v.
func decodeStageBody(t *testing.T, request *http.Request, v any) {
	t.Helper()
	if got := request.Header.Get("Content-Encoding"); got != "deflate" {
		t.Errorf("Content-Encoding = %q, want deflate", got)
	}
	reader, err := zlib.NewReader(request.Body)
	if err != nil {
		t.Fatalf("opening zlib reader: %v", err)
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("decompressing request body: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decoding request body: %v", err)
	}
}

func TestNewConnection(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		conn, err := NewConnection(ClientConfig{
			ServerURL: "https://sync.example.com",
			MachineID: "machine-1",
		})
		if err != nil {
			t.Fatalf("NewConnection failed: %v", err)
		}
		if conn == nil {
			t.Fatal("NewConnection returned nil")
		}
	})

	t.Run("missing server URL", func(t *testing.T) {
		_, err := NewConnection(ClientConfig{MachineID: "machine-1"})
		if err == nil {
			t.Fatal("expected error for missing ServerURL")
		}
	})

	t.Run("missing machine ID", func(t *testing.T) {
		_, err := NewConnection(ClientConfig{ServerURL: "https://sync.example.com"})
		if err == nil {
			t.Fatal("expected error for missing MachineID")
		}
	})

	t.Run("trailing slash trimmed", func(t *testing.T) {
		conn := newTestConnection(t, "https://sync.example.com/")
		got := conn.stageURL("preflight")
		want := "https://sync.example.com/preflight/machine-1"
		if got != want {
			t.Errorf("stageURL = %q, want %q", got, want)
		}
	})

	t.Run("machine ID escaped in URL", func(t *testing.T) {
		conn, err := NewConnection(ClientConfig{
			ServerURL: "https://sync.example.com",
			MachineID: "host/with/slashes",
		})
		if err != nil {
			t.Fatalf("NewConnection failed: %v", err)
		}
		got := conn.stageURL("preflight")
		if strings.Count(got, "/") != 4 {
			t.Errorf("stageURL %q leaks path separators from the machine ID", got)
		}
	})
}

func TestRequestCompression(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/postflight/machine-1" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		if got := request.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", got)
		}
		var body PostflightRequest
		decodeStageBody(t, request, &body)
		if body.SyncKind != "full" || body.RulesReceived != 7 {
			t.Errorf("unexpected postflight body: %+v", body)
		}
		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	conn := newTestConnection(t, server.URL)
	err := conn.Postflight(t.Context(), &PostflightRequest{
		SyncKind:      "full",
		RulesReceived: 7,
	})
	if err != nil {
		t.Fatalf("Postflight failed: %v", err)
	}
}

func TestXSRFHandshake(t *testing.T) {
	t.Run("default header", func(t *testing.T) {
		stageCalls := 0
		xsrfCalls := 0
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if strings.HasPrefix(request.URL.Path, "/xsrf/") {
				xsrfCalls++
				writer.Header().Set("X-XSRF-TOKEN", "token-123")
				writer.WriteHeader(http.StatusOK)
				return
			}
			stageCalls++
			if request.Header.Get("X-XSRF-TOKEN") != "token-123" {
				writer.WriteHeader(http.StatusForbidden)
				return
			}
			writer.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		conn := newTestConnection(t, server.URL)

		// First stage request: 403, handshake, retry.
		if err := conn.Postflight(t.Context(), &PostflightRequest{SyncKind: "rules"}); err != nil {
			t.Fatalf("Postflight failed: %v", err)
		}
		if stageCalls != 2 {
			t.Errorf("stage calls = %d, want 2 (initial + retry)", stageCalls)
		}
		if xsrfCalls != 1 {
			t.Errorf("xsrf calls = %d, want 1", xsrfCalls)
		}

		// Second stage request replays the token without another
		// handshake.
		if err := conn.Postflight(t.Context(), &PostflightRequest{SyncKind: "rules"}); err != nil {
			t.Fatalf("second Postflight failed: %v", err)
		}
		if stageCalls != 3 {
			t.Errorf("stage calls = %d, want 3", stageCalls)
		}
		if xsrfCalls != 1 {
			t.Errorf("xsrf calls = %d, want 1 (token cached)", xsrfCalls)
		}
	})

	t.Run("renamed replay header", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if strings.HasPrefix(request.URL.Path, "/xsrf/") {
				writer.Header().Set("X-XSRF-TOKEN", "token-456")
				writer.Header().Set("X-XSRF-TOKEN-HEADER", "X-Fleet-Token")
				writer.WriteHeader(http.StatusOK)
				return
			}
			if request.Header.Get("X-Fleet-Token") != "token-456" {
				writer.WriteHeader(http.StatusForbidden)
				return
			}
			writer.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		conn := newTestConnection(t, server.URL)
		if err := conn.Postflight(t.Context(), &PostflightRequest{SyncKind: "rules"}); err != nil {
			t.Fatalf("Postflight failed: %v", err)
		}
	})

	t.Run("persistent 403 surfaces as status error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if strings.HasPrefix(request.URL.Path, "/xsrf/") {
				writer.Header().Set("X-XSRF-TOKEN", "token-789")
				writer.WriteHeader(http.StatusOK)
				return
			}
			// The server rejects the machine regardless of token.
			writer.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		conn := newTestConnection(t, server.URL)
		err := conn.Postflight(t.Context(), &PostflightRequest{SyncKind: "rules"})
		if !IsStatusError(err, http.StatusForbidden) {
			t.Fatalf("expected 403 StatusError, got %v", err)
		}
	})

	t.Run("xsrf response without token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if strings.HasPrefix(request.URL.Path, "/xsrf/") {
				writer.WriteHeader(http.StatusOK)
				return
			}
			writer.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		conn := newTestConnection(t, server.URL)
		err := conn.Postflight(t.Context(), &PostflightRequest{SyncKind: "rules"})
		if err == nil || !strings.Contains(err.Error(), "no token") {
			t.Fatalf("expected missing-token error, got %v", err)
		}
	})
}

func TestStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(writer, "database unavailable")
	}))
	defer server.Close()

	conn := newTestConnection(t, server.URL)
	err := conn.Postflight(t.Context(), &PostflightRequest{SyncKind: "full"})
	if err == nil {
		t.Fatal("expected error from 500 response")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *StatusError, got %T: %v", err, err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", statusErr.StatusCode)
	}
	if !strings.Contains(statusErr.Message, "database unavailable") {
		t.Errorf("Message = %q, want server body", statusErr.Message)
	}

	if !IsStatusError(err, http.StatusInternalServerError) {
		t.Error("IsStatusError(err, 500) = false, want true")
	}
	if IsStatusError(err, http.StatusNotFound) {
		t.Error("IsStatusError(err, 404) = true, want false")
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &StatusError{StatusCode: 429}, true},
		{"server error", &StatusError{StatusCode: 500}, true},
		{"bad gateway", &StatusError{StatusCode: 502}, true},
		{"bad request", &StatusError{StatusCode: 400}, false},
		{"forbidden", &StatusError{StatusCode: 403}, false},
		{"payload too large", &StatusError{StatusCode: 413}, false},
		{"wrapped status error", fmt.Errorf("syncservice: eventupload: %w", &StatusError{StatusCode: 503}), true},
		{"connection error", errors.New("dial unix: connection refused"), true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsTransientError(test.err); got != test.want {
				t.Errorf("IsTransientError(%v) = %v, want %v", test.err, got, test.want)
			}
		})
	}
}
