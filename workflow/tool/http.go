package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes = 1 << 20

// TransportError reports that the request never produced an HTTP response
// (DNS, connection refused, timeout). Callers treat it as transient.
type TransportError struct {
	URL   string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// HTTPTool performs HTTP requests.
//
// Input:
//   - method: "GET" or "POST" (default "GET")
//   - url: target URL (required)
//   - headers: optional map of header values
//   - body: optional request body string
//
// Output:
//   - status_code: int
//   - headers: response headers, single values flattened
//   - body: response body string, truncated at MaxBodyBytes
//
// Example:
//
//	h := tool.NewHTTPTool(tool.WithTimeout(5 * time.Second))
//	result, err := h.Call(ctx, map[string]interface{}{
//	    "method": "POST",
//	    "url":    "https://mail-relay.internal/send",
//	    "headers": map[string]interface{}{"Content-Type": "application/json"},
//	    "body":   payload,
//	})
type HTTPTool struct {
	client       *http.Client
	maxBodyBytes int64
}

// HTTPOption configures an HTTPTool.
type HTTPOption func(*HTTPTool)

// WithTimeout bounds each request, including reading the body.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPTool) { h.client.Timeout = d }
}

// WithHTTPClient replaces the underlying client, for example to share a
// transport or to point tests at an httptest server's client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPTool) { h.client = c }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) HTTPOption {
	return func(h *HTTPTool) { h.maxBodyBytes = n }
}

// NewHTTPTool creates an HTTPTool. Without WithTimeout, deadlines come from ctx.
func NewHTTPTool(opts ...HTTPOption) *HTTPTool {
	h := &HTTPTool{
		client:       &http.Client{},
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements Tool.
func (h *HTTPTool) Name() string {
	return "http_request"
}

// Call implements Tool.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	urlStr, ok := input["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	method := http.MethodGet
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported HTTP method: %s (supported: GET, POST)", method)
	}

	var body io.Reader
	if bodyStr, ok := input["body"].(string); ok && bodyStr != "" {
		body = bytes.NewBufferString(bodyStr)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if valueStr, ok := value.(string); ok {
				req.Header.Set(key, valueStr)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &TransportError{URL: urlStr, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBodyBytes))
	if err != nil {
		return nil, &TransportError{URL: urlStr, Cause: fmt.Errorf("failed to read response body: %w", err)}
	}

	respHeaders := make(map[string]interface{})
	for key, values := range resp.Header {
		if len(values) == 1 {
			respHeaders[key] = values[0]
		} else {
			respHeaders[key] = values
		}
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}, nil
}
