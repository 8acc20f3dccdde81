// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package syncservice

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"sort"
)

// newUploadBody builds a multipart/form-data request body that streams
// the batch file instead of buffering it: the form fields and the file
// part header land in a prologue buffer, the closing boundary in a
// trailer buffer, and the file is threaded between them. The returned
// length is exact, so the request goes out with a Content-Length
// rather than chunked encoding — some sync server deployments sit
// behind frontends that reject chunked uploads.
func newUploadBody(fields map[string]string, file *os.File, fileName string) (io.Reader, string, int64, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// Deterministic part order.
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writer.WriteField(name, fields[name]); err != nil {
			return nil, "", 0, fmt.Errorf("writing form field %s: %w", name, err)
		}
	}

	// The file part header ends the prologue; the file's bytes belong
	// immediately after it.
	if _, err := writer.CreateFormFile("events", fileName); err != nil {
		return nil, "", 0, fmt.Errorf("writing file part header: %w", err)
	}
	prologue := append([]byte(nil), buf.Bytes()...)

	// Closing the writer emits the final boundary; everything past the
	// prologue is the trailer.
	if err := writer.Close(); err != nil {
		return nil, "", 0, fmt.Errorf("closing multipart writer: %w", err)
	}
	trailer := append([]byte(nil), buf.Bytes()[len(prologue):]...)

	stat, err := file.Stat()
	if err != nil {
		return nil, "", 0, fmt.Errorf("sizing %s: %w", fileName, err)
	}

	body := io.MultiReader(bytes.NewReader(prologue), file, bytes.NewReader(trailer))
	length := int64(len(prologue)) + stat.Size() + int64(len(trailer))
	return body, writer.FormDataContentType(), length, nil
}
