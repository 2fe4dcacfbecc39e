// Package api is the HTTP client for the Hackatime time-tracking service.
//
// Every request carries the caller's bearer token and goes through a
// retryablehttp client. Transport errors and 5xx responses are retried;
// 429 is never retried and reaches the caller as [ErrRateLimited] so the
// poller can back off.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hackclub/hackatime-desktop/internal/logger"
	"github.com/hashicorp/go-retryablehttp"
)

// maxResponseBytes bounds every response body read from the service.
const maxResponseBytes = 4 << 20 // 4 MiB

// ///////////////////////////////////////////////
// Errors
// ///////////////////////////////////////////////

var (
	// ErrRemoteUnavailable is returned for transport failures (DNS, refused
	// connections, timeouts) after retries are exhausted.
	ErrRemoteUnavailable = errors.New("remote service unavailable")
	// ErrRateLimited is returned when the service answers 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrResponseParse is returned when a 2xx body cannot be decoded.
	ErrResponseParse = errors.New("unparseable response")
	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("unauthorized")
)

// StatusError is returned for non-2xx responses. Body holds the first part
// of the response body for diagnostics.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Options configures a [Client].
type Options struct {
	// BaseURL is the service root, e.g. https://hackatime.hackclub.com.
	BaseURL string
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// RetryMax is the number of retries after the first attempt.
	RetryMax int
	// RetryWaitMin and RetryWaitMax bound the backoff between attempts.
	// Zero keeps the retryablehttp defaults.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// UserAgent is sent with every request.
	UserAgent string
	// Logger receives retry diagnostics. Nil disables them.
	Logger *slog.Logger
}

// Client talks to the authenticated endpoints of the service.
type Client struct {
	baseURL   string
	userAgent string
	http      *retryablehttp.Client
}

// New creates a Client from opts.
func New(opts Options) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if opts.Logger != nil {
		rc.Logger = opts.Logger
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = "kubetime"
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: ua,
		http:      rc,
	}
}

// BaseURL returns the service root this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient returns a standard *http.Client backed by the retrying
// transport, for libraries that accept one.
func (c *Client) HTTPClient() *http.Client { return c.http.StandardClient() }

// checkRetry retries what the default policy retries, except 429. A rate
// limit is handed back to the caller untouched.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// ///////////////////////////////////////////////
// Request Plumbing
// ///////////////////////////////////////////////

// get performs an authenticated GET and returns the raw body of a 2xx
// response.
func (c *Client) get(ctx context.Context, op, token, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w: %w", op, ErrRemoteUnavailable, err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("%s: response exceeds %d bytes: %w", op, maxResponseBytes, ErrResponseParse)
	}
	logger.Trace(slog.Default(), "api response", "op", op, "status", resp.StatusCode, "body", string(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%s: %w", op, ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, newStatusError(op, resp.StatusCode, body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, newStatusError(op, resp.StatusCode, body)
	}
	return body, nil
}

// getJSON performs get and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, op, token, path string, query url.Values, out any) error {
	body, err := c.get(ctx, op, token, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrResponseParse, err)
	}
	return nil
}

func newStatusError(op string, code int, body []byte) *StatusError {
	const maxSnippet = 200
	s := strings.TrimSpace(string(body))
	if len(s) > maxSnippet {
		s = s[:maxSnippet] + "..."
	}
	return &StatusError{Op: op, StatusCode: code, Body: s}
}
