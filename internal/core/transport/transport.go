// Package transport is the HTTP layer shared by the Aqara cloud clients.
// It owns the resty client, maps HTTP and network failures onto the two
// error kinds callers care about, and decodes JSON bodies.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrInvalidAuth means the cloud rejected the credentials (401/403 or
	// an application-level login failure).
	ErrInvalidAuth = errors.New("invalid authentication")
	// ErrCannotConnect covers DNS, connection, timeout, HTTP and body
	// decoding failures. It is retryable.
	ErrCannotConnect = errors.New("cannot connect")
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 10 * time.Second

// Request is one call against the cloud API.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    []byte
	Headers map[string]string
}

// Response is a raw HTTP response with a readable body.
type Response struct {
	StatusCode int
	Body       []byte
}

// Doer executes requests. *Client implements it.
type Doer interface {
	Do(ctx context.Context, req Request) (Response, error)
}

// Client performs requests against one base URL.
type Client struct {
	http *resty.Client
	log  *slog.Logger
}

var _ Doer = (*Client)(nil)

// NewClient creates a client rooted at baseURL. A zero timeout uses
// DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := resty.New()
	r.SetBaseURL(strings.TrimRight(baseURL, "/"))
	r.SetTimeout(timeout)
	r.SetHeader("Accept", "application/json")
	return &Client{http: r, log: log}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.http.BaseURL
}

// Do sends req. Transport failures and HTTP errors other than 401/403 are
// wrapped in ErrCannotConnect; 401/403 is wrapped in ErrInvalidAuth. On
// success the body is returned undecoded.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	r := c.http.R().SetContext(ctx)
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	resp, err := r.Execute(method, req.Path)
	if err != nil {
		c.log.Debug("request failed", "method", method, "path", req.Path, "error", err)
		return Response{}, fmt.Errorf("%w: %s %s: %v", ErrCannotConnect, method, req.Path, err)
	}

	out := Response{StatusCode: resp.StatusCode(), Body: resp.Body()}
	if err := CheckStatus(out); err != nil {
		c.log.Debug("request rejected", "method", method, "path", req.Path, "status", out.StatusCode)
		return out, err
	}
	return out, nil
}

// CheckStatus classifies an HTTP status code.
func CheckStatus(resp Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", ErrInvalidAuth, resp.StatusCode, errorMessage(resp.Body))
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: HTTP %d: %s", ErrCannotConnect, resp.StatusCode, errorMessage(resp.Body))
	}
	return nil
}

// Decode parses a JSON body into a generic document. Numbers decode as
// json.Number so large ids keep their digits.
func (r Response) Decode() (any, error) {
	dec := json.NewDecoder(bytes.NewReader(r.Body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: malformed body: %v", ErrCannotConnect, err)
	}
	return doc, nil
}

// MarshalCompact encodes v as compact JSON without HTML escaping, which is
// the exact byte form the vendor signs.
func MarshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// errorMessage pulls "message" and "code" out of an error body, falling
// back to the raw text.
func errorMessage(body []byte) string {
	var payload struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return fmt.Sprintf("%s (code: %v)", payload.Message, payload.Code)
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
