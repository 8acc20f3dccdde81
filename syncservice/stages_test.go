// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package syncservice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wardenhq/warden/lib/spool"
)

func TestPreflight(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/preflight/machine-1" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}

		var body PreflightRequest
		decodeStageBody(t, request, &body)
		if body.Serial != "C02XK1ZNJGH5" {
			t.Errorf("serial = %q", body.Serial)
		}
		if body.PushToken != "nats:machine-1" {
			t.Errorf("push_token = %q", body.PushToken)
		}
		if body.AgentVersion == "" {
			t.Error("agent_version is empty")
		}

		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(map[string]any{
			"full_sync_interval_seconds":        600,
			"global_rule_sync_deadline_seconds": 300,
			"batch_size":                        100,
			"push_server":                       "nats://push.example.com:4222",
			"push_jwt":                          "eyJa.eyJb.c",
			"push_seed":                         "SUAEXAMPLE",
			"push_tags":                         []string{"fleet-canary"},
		})
	}))
	defer server.Close()

	conn := newTestConnection(t, server.URL)
	response, err := conn.Preflight(t.Context(), &PreflightRequest{
		Serial:       "C02XK1ZNJGH5",
		Hostname:     "workstation-7",
		OSVersion:    "15.2",
		AgentVersion: "1.0.0",
		PushToken:    "nats:machine-1",
	})
	if err != nil {
		t.Fatalf("Preflight failed: %v", err)
	}

	if response.FullSyncIntervalSeconds != 600 {
		t.Errorf("FullSyncIntervalSeconds = %d, want 600", response.FullSyncIntervalSeconds)
	}
	if response.BatchSize != 100 {
		t.Errorf("BatchSize = %d, want 100", response.BatchSize)
	}

	state := response.SyncState()
	if state.FullSyncInterval != 10*time.Minute {
		t.Errorf("FullSyncInterval = %v, want 10m", state.FullSyncInterval)
	}
	if state.GlobalRuleSyncDeadline != 5*time.Minute {
		t.Errorf("GlobalRuleSyncDeadline = %v, want 5m", state.GlobalRuleSyncDeadline)
	}
	if state.BrokerServer != "nats://push.example.com:4222" {
		t.Errorf("BrokerServer = %q", state.BrokerServer)
	}
	if state.BrokerJWT != "eyJa.eyJb.c" || state.BrokerSeed != "SUAEXAMPLE" {
		t.Error("broker credentials did not survive the conversion")
	}
	if len(state.Tags) != 1 || state.Tags[0] != "fleet-canary" {
		t.Errorf("Tags = %v", state.Tags)
	}
}

func TestPreflightEmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	conn := newTestConnection(t, server.URL)
	response, err := conn.Preflight(t.Context(), &PreflightRequest{Serial: "X"})
	if err != nil {
		t.Fatalf("Preflight failed: %v", err)
	}

	// An empty response means "keep your settings": the zero SyncState
	// must not carry any overrides.
	state := response.SyncState()
	if state.FullSyncInterval != 0 || state.GlobalRuleSyncDeadline != 0 {
		t.Errorf("empty response produced overrides: %+v", state)
	}
	if state.BrokerServer != "" || len(state.Tags) != 0 {
		t.Errorf("empty response produced broker state: %+v", state)
	}
}

func TestDownloadRules(t *testing.T) {
	t.Run("pages through cursor", func(t *testing.T) {
		requests := 0
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			requests++
			var body RuleDownloadRequest
			decodeStageBody(t, request, &body)

			writer.Header().Set("Content-Type", "application/json")
			switch body.Cursor {
			case "":
				json.NewEncoder(writer).Encode(RuleDownloadResponse{
					Rules: []Rule{
						{Identifier: "a1", Policy: "block", RuleType: "binary"},
						{Identifier: "b2", Policy: "allow", RuleType: "certificate"},
					},
					Cursor: "page-2",
				})
			case "page-2":
				json.NewEncoder(writer).Encode(RuleDownloadResponse{
					Rules: []Rule{{Identifier: "c3", Policy: "block", RuleType: "teamid"}},
				})
			default:
				t.Errorf("unexpected cursor %q", body.Cursor)
				writer.WriteHeader(http.StatusBadRequest)
			}
		}))
		defer server.Close()

		conn := newTestConnection(t, server.URL)
		var pages [][]Rule
		received, err := conn.DownloadRules(t.Context(), func(page []Rule) error {
			pages = append(pages, page)
			return nil
		})
		if err != nil {
			t.Fatalf("DownloadRules failed: %v", err)
		}
		if received != 3 {
			t.Errorf("received = %d, want 3", received)
		}
		if requests != 2 {
			t.Errorf("requests = %d, want 2", requests)
		}
		if len(pages) != 2 || len(pages[0]) != 2 || len(pages[1]) != 1 {
			t.Fatalf("unexpected page shapes: %v", pages)
		}
		if pages[0][0].Identifier != "a1" || pages[1][0].Identifier != "c3" {
			t.Errorf("pages arrived out of order: %v", pages)
		}
	})

	t.Run("apply error aborts paging", func(t *testing.T) {
		requests := 0
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			requests++
			writer.Header().Set("Content-Type", "application/json")
			json.NewEncoder(writer).Encode(RuleDownloadResponse{
				Rules:  []Rule{{Identifier: "a1", Policy: "block", RuleType: "binary"}},
				Cursor: "more",
			})
		}))
		defer server.Close()

		conn := newTestConnection(t, server.URL)
		applyErr := errors.New("policy store is read-only")
		received, err := conn.DownloadRules(t.Context(), func(page []Rule) error {
			return applyErr
		})
		if !errors.Is(err, applyErr) {
			t.Fatalf("expected apply error, got %v", err)
		}
		if received != 0 {
			t.Errorf("received = %d, want 0 (failed page does not count)", received)
		}
		if requests != 1 {
			t.Errorf("requests = %d, want 1 (no second page after failure)", requests)
		}
	})

	t.Run("no rules", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			json.NewEncoder(writer).Encode(RuleDownloadResponse{})
		}))
		defer server.Close()

		conn := newTestConnection(t, server.URL)
		applied := false
		received, err := conn.DownloadRules(t.Context(), func(page []Rule) error {
			applied = true
			return nil
		})
		if err != nil {
			t.Fatalf("DownloadRules failed: %v", err)
		}
		if received != 0 || applied {
			t.Errorf("empty download: received=%d applied=%v", received, applied)
		}
	})
}

// writeTestBatch spools a batch of synthetic events and returns its
// path and metadata.
func writeTestBatch(t *testing.T, dir string, events int) (string, spool.BatchInfo) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := make([]spool.Event, events)
	for i := range batch {
		batch[i] = spool.Event{
			UUID:       fmt.Sprintf("00000000-0000-0000-0000-%012d", i),
			Timestamp:  now.Unix() + int64(i),
			Decision:   "block_binary",
			FilePath:   "/usr/local/bin/suspect",
			FileSHA256: strings.Repeat("ab", 32),
			PID:        1000 + i,
			PPID:       1,
		}
	}
	path, err := spool.WriteBatch(dir, batch, spool.CompressionLZ4, now)
	if err != nil {
		t.Fatalf("WriteBatch failed: %v", err)
	}
	info, err := spool.Describe(path)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	return path, info
}

func TestUploadBatch(t *testing.T) {
	dir := t.TempDir()
	path, info := writeTestBatch(t, dir, 5)
	fileBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading batch file: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/eventupload/machine-1" {
			t.Errorf("unexpected path: %s", request.URL.Path)
		}
		if request.ContentLength <= 0 {
			t.Error("upload arrived without Content-Length")
		}
		if len(request.TransferEncoding) != 0 {
			t.Errorf("upload used transfer encoding %v", request.TransferEncoding)
		}

		if err := request.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing multipart form: %v", err)
		}
		if got := request.FormValue("machine_id"); got != "machine-1" {
			t.Errorf("machine_id = %q", got)
		}
		if got := request.FormValue("batch_digest"); got != info.Digest {
			t.Errorf("batch_digest = %q, want %q", got, info.Digest)
		}
		if got := request.FormValue("event_count"); got != "5" {
			t.Errorf("event_count = %q, want 5", got)
		}

		file, header, err := request.FormFile("events")
		if err != nil {
			t.Fatalf("missing events part: %v", err)
		}
		defer file.Close()
		if header.Filename != filepath.Base(path) {
			t.Errorf("file name = %q, want %q", header.Filename, filepath.Base(path))
		}
		uploaded, err := io.ReadAll(file)
		if err != nil {
			t.Fatalf("reading uploaded file: %v", err)
		}
		if !bytes.Equal(uploaded, fileBytes) {
			t.Errorf("uploaded %d bytes, spool file has %d; contents differ", len(uploaded), len(fileBytes))
		}

		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(EventUploadResponse{EventsReceived: 5})
	}))
	defer server.Close()

	conn := newTestConnection(t, server.URL)
	response, err := conn.UploadBatch(t.Context(), path, info)
	if err != nil {
		t.Fatalf("UploadBatch failed: %v", err)
	}
	if response.EventsReceived != 5 {
		t.Errorf("EventsReceived = %d, want 5", response.EventsReceived)
	}
}

// TestUploadBatchRetryAfterHandshake verifies the retry after an XSRF
// handshake resends the complete file, not the drained remainder of
// the first attempt's reader.
func TestUploadBatchRetryAfterHandshake(t *testing.T) {
	dir := t.TempDir()
	path, info := writeTestBatch(t, dir, 3)
	fileBytes, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading batch file: %v", err)
	}

	uploads := 0
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if strings.HasPrefix(request.URL.Path, "/xsrf/") {
			writer.Header().Set("X-XSRF-TOKEN", "token-xyz")
			writer.WriteHeader(http.StatusOK)
			return
		}

		uploads++
		if request.Header.Get("X-XSRF-TOKEN") != "token-xyz" {
			// Drain the body the way a real frontend would before
			// rejecting.
			io.Copy(io.Discard, request.Body)
			writer.WriteHeader(http.StatusForbidden)
			return
		}

		if err := request.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing retried multipart form: %v", err)
		}
		file, _, err := request.FormFile("events")
		if err != nil {
			t.Fatalf("missing events part on retry: %v", err)
		}
		defer file.Close()
		uploaded, err := io.ReadAll(file)
		if err != nil {
			t.Fatalf("reading retried file: %v", err)
		}
		if !bytes.Equal(uploaded, fileBytes) {
			t.Errorf("retry uploaded %d bytes, want %d", len(uploaded), len(fileBytes))
		}

		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(EventUploadResponse{EventsReceived: 3})
	}))
	defer server.Close()

	conn := newTestConnection(t, server.URL)
	response, err := conn.UploadBatch(t.Context(), path, info)
	if err != nil {
		t.Fatalf("UploadBatch failed: %v", err)
	}
	if uploads != 2 {
		t.Errorf("uploads = %d, want 2 (rejected + retried)", uploads)
	}
	if response.EventsReceived != 3 {
		t.Errorf("EventsReceived = %d, want 3", response.EventsReceived)
	}
}
