// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package syncservice

import (
	"errors"
	"fmt"
)

// StatusError represents a non-2xx response from the sync server.
// Callers can use errors.As to extract the structured information:
//
//	var statusErr *StatusError
//	if errors.As(err, &statusErr) {
//	    if statusErr.StatusCode == http.StatusForbidden { ... }
//	}
type StatusError struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// Message is the server's error body, truncated to a log-friendly
	// length. May be empty.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sync server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("sync server returned %d: %s", e.StatusCode, e.Message)
}

// IsStatusError checks whether err is a *StatusError with the given
// status code.
func IsStatusError(err error, statusCode int) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == statusCode
	}
	return false
}

// IsTransientError returns true for errors that are likely transient
// and worth leaving to the next scheduled sync: connection failures,
// rate limiting (429), and server errors (5xx). Returns false for
// client errors (4xx except 429) which indicate a permanent problem
// with the request.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		// 429 Too Many Requests — rate limit, transient.
		if statusErr.StatusCode == 429 {
			return true
		}
		// 5xx — server error, transient.
		if statusErr.StatusCode >= 500 {
			return true
		}
		// 4xx (except 429) — client error, permanent.
		if statusErr.StatusCode >= 400 {
			return false
		}
	}

	// Everything else (connection refused, timeout, EOF) is transient.
	return true
}
