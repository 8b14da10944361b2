// Package v1 holds the typed clients for the portfolio backend's
// content endpoints. They are deliberately thin: credentials,
// anti-forgery headers and 401 recovery all come from the shared
// request pipeline, so these clients are plain call-and-decode.
package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/duynhne/portfolio-client/internal/core/domain"
	logicv1 "github.com/duynhne/portfolio-client/internal/logic/v1"
)

// doJSON issues a JSON request and decodes the response into out when
// out is non-nil. Bodies are built from bytes.Reader so the pipeline's
// retry path can replay them.
func doJSON(ctx context.Context, hc *http.Client, method, url string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// handled below
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, logicv1.ErrUnauthorized)
	default:
		var apiErr domain.APIError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s %s: status %d: %s", method, req.URL.Path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
