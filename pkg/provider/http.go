package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rhuss/toolbridge/pkg/debug"
)

// PostStream sends body as JSON to url and returns the response body once
// the backend has accepted the request. The caller must close it.
//
// The request lifetime is bound to ctx only. A client-level timeout would
// cut off long but healthy streams.
func PostStream(ctx context.Context, client *http.Client, providerName, url string, header http.Header, body any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", providerName, err)
	}
	debug.Trace("providers", "request payload", "provider", providerName, "json", debug.Truncate(string(payload), 2000))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", providerName, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s backend connection error: %w", providerName, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, MapHTTPError(providerName, resp)
	}
	return resp.Body, nil
}
