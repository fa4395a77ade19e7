// SPDX-License-Identifier: MIT

package helpers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// RequestOptions configures HTTP request creation.
type RequestOptions struct {
	Method      string
	Path        string
	Body        io.Reader
	ExtraHeader map[string]string
}

// DoRequest creates and executes an HTTP request with common test
// settings. The caller closes the response body.
//
// Usage:
//
//	resp := helpers.DoRequest(t, gw.Server.URL, helpers.RequestOptions{
//	    Method: http.MethodGet,
//	    Path:   "/api/printers",
//	})
//	defer resp.Body.Close()
func DoRequest(t *testing.T, baseURL string, opts RequestOptions) *http.Response {
	t.Helper()

	if opts.Method == "" {
		opts.Method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(
		context.Background(),
		opts.Method,
		baseURL+opts.Path,
		opts.Body,
	)
	require.NoError(t, err, "failed to create HTTP request")

	for key, value := range opts.ExtraHeader {
		req.Header.Set(key, value)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "failed to execute HTTP request")

	return resp
}

// GetJSON fetches a path and decodes the response body into out.
func GetJSON(t *testing.T, baseURL, path string, out any) *http.Response {
	t.Helper()

	resp := DoRequest(t, baseURL, RequestOptions{Path: path})
	defer resp.Body.Close()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(out), "failed to decode %s response", path)
	return resp
}
