// Package client sends calls to remote rpcmesh endpoints.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

const httpLogPrefix = "client:http"

// PostJSON posts body to url and returns the response headers and body text.
// Any HTTP status is accepted; rpcmesh servers report failures in the body.
func PostJSON(ctx context.Context, hc *http.Client, url string, body []byte) (http.Header, []byte, error) {
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("%s - failed to build request for %s: %w", httpLogPrefix, url, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s - post %s failed: %w", httpLogPrefix, url, err)
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.Header, nil, fmt.Errorf("%s - failed to read response from %s: %w", httpLogPrefix, url, err)
	}
	return resp.Header, text, nil
}
