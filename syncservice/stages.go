// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package syncservice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/wardenhq/warden/lib/spool"
)

// Preflight reports the machine facts and push token, and returns the
// server's policy for this host.
func (c *Connection) Preflight(ctx context.Context, request *PreflightRequest) (*PreflightResponse, error) {
	var response PreflightResponse
	if err := c.postJSON(ctx, "preflight", request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// DownloadRules pages through the rule download stage, handing each
// page to apply in arrival order. It returns the number of rules
// received; on error the count covers the pages already applied.
func (c *Connection) DownloadRules(ctx context.Context, apply func([]Rule) error) (int, error) {
	received := 0
	cursor := ""
	for {
		var response RuleDownloadResponse
		request := &RuleDownloadRequest{Cursor: cursor}
		if err := c.postJSON(ctx, "ruledownload", request, &response); err != nil {
			return received, err
		}

		if len(response.Rules) > 0 {
			if err := apply(response.Rules); err != nil {
				return received, fmt.Errorf("syncservice: applying rules: %w", err)
			}
			received += len(response.Rules)
		}

		if response.Cursor == "" {
			return received, nil
		}
		cursor = response.Cursor
	}
}

// Postflight reports the run's outcome counters.
func (c *Connection) Postflight(ctx context.Context, request *PostflightRequest) error {
	return c.postJSON(ctx, "postflight", request, nil)
}

// UploadBatch streams one spooled batch file through the event upload
// stage. The file goes up as-is — the spool envelope is the upload
// format — alongside form fields identifying the host and the batch.
// The caller removes the file once the upload succeeds.
func (c *Connection) UploadBatch(ctx context.Context, path string, info spool.BatchInfo) (*EventUploadResponse, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("syncservice: opening batch %s: %w", path, err)
	}
	defer file.Close()

	fields := map[string]string{
		"machine_id":   c.machineID,
		"batch_digest": info.Digest,
		"event_count":  strconv.Itoa(info.Events),
	}

	body, err := c.do(ctx, "eventupload", func() (*http.Request, error) {
		// A retry after the XSRF handshake needs the file from the top.
		if _, err := file.Seek(0, 0); err != nil {
			return nil, fmt.Errorf("rewinding %s: %w", path, err)
		}
		reader, contentType, contentLength, err := newUploadBody(fields, file, filepath.Base(path))
		if err != nil {
			return nil, err
		}
		request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.stageURL("eventupload"), reader)
		if err != nil {
			return nil, err
		}
		request.Header.Set("Content-Type", contentType)
		request.ContentLength = contentLength
		return request, nil
	})
	if err != nil {
		return nil, err
	}

	var response EventUploadResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &response); err != nil {
			return nil, fmt.Errorf("syncservice: parsing eventupload response: %w", err)
		}
	}
	return &response, nil
}
