// Package httputil provides the JSON transport shared by backend adapters.
package httputil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

const maxErrorMessageLen = 512

// DefaultMaxBody caps backend response bodies at 10MB.
const DefaultMaxBody int64 = 10 * 1024 * 1024

// Client sends JSON requests to one backend and maps every failure to a
// kind-tagged error.
type Client struct {
	HTTP    *http.Client
	Backend string
	Model   string

	// MaxBody caps the response size. Zero means DefaultMaxBody; a negative
	// value lifts the cap.
	MaxBody int64
}

// Do encodes in as the request body (when non-nil), sends the request and
// decodes a 2xx response into out (when non-nil).
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return llmerrors.NewValidationErrorf("encode %s request: %v", c.Backend, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return llmerrors.NewConfigurationError(c.Backend, "build request: "+err.Error())
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return llmerrors.NewTimeoutError(c.Backend, c.Model, "request timed out")
		}
		return llmerrors.NewTransientError(c.Backend, c.Model, "request failed: "+err.Error(), err)
	}
	defer resp.Body.Close()

	raw, err := c.readBody(resp.Body)
	var tagged *llmerrors.Error
	switch {
	case err == nil:
	case errors.As(err, &tagged):
		return err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return llmerrors.NewTimeoutError(c.Backend, c.Model, "timed out reading response")
	default:
		return llmerrors.NewTransientError(c.Backend, c.Model, "read response: "+err.Error(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return llmerrors.FromStatus(c.Backend, c.Model, resp.StatusCode, errorMessage(raw, resp.Status))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return llmerrors.NewTransientError(c.Backend, c.Model, "decode response: "+err.Error(), err)
	}
	return nil
}

// readBody reads a response body, failing once it grows past the cap.
func (c *Client) readBody(r io.Reader) ([]byte, error) {
	limit := c.MaxBody
	if limit == 0 {
		limit = DefaultMaxBody
	}
	if limit < 0 {
		return io.ReadAll(r)
	}

	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		return nil, llmerrors.NewTransientError(c.Backend, c.Model,
			fmt.Sprintf("response exceeds %d bytes", limit), nil)
	}
	return raw, nil
}

// errorMessage pulls a human-readable message out of a backend error body.
// Backends use either {"error": {"message": ...}} or {"error": "..."}.
func errorMessage(raw []byte, status string) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &nested) == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}

	var flat struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &flat) == nil && flat.Error != "" {
		return flat.Error
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return status
	}
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}
	return msg
}
