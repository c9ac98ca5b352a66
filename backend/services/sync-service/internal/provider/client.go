package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"wattmint/backend/services/sync-service/internal/errs"
)

const maxErrorBody = 2048

// HTTPDoer defines http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// StatusError is a non-2xx vendor answer. It unwraps to the matching errs sentinel.
type StatusError struct {
	Provider   string
	Status     int
	RetryAfter time.Duration
	Body       string
	kind       error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return e.kind }

// RetryAfter extracts the vendor's Retry-After hint from err, if any.
func RetryAfter(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}

// ClientOptions configures a vendor client.
type ClientOptions struct {
	Provider string
	BaseURL  string
	// AsleepStatus is the provider-specific status meaning the device is unreachable.
	AsleepStatus int
	RPS          float64
	Burst        int
}

// Client performs bearer-authenticated JSON calls against one vendor API and
// throttles itself to the vendor's per-account rate.
type Client struct {
	provider     string
	baseURL      string
	asleepStatus int
	http         HTTPDoer
	limiter      *rate.Limiter
}

// NewClient builds a vendor client. A non-positive RPS disables client-side throttling.
func NewClient(opts ClientOptions, httpClient HTTPDoer) *Client {
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		provider:     opts.Provider,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		asleepStatus: opts.AsleepStatus,
		http:         httpClient,
		limiter:      rate.NewLimiter(limit, burst),
	}
}

// NewDefaultHTTPClient returns *http.Client with timeout.
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (c *Client) buildURL(path string, query url.Values) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// GetJSON issues GET path and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, token, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, token, path, query, nil, out)
}

// PostJSON issues POST path with an optional JSON body and decodes the answer into out.
func (c *Client) PostJSON(ctx context.Context, token, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, token, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, token, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: rate limiter: %w", c.provider, ctxErr)
		}
		// The limiter refuses waits that would outlive the deadline before it expires.
		return fmt.Errorf("%s: rate limiter: %w: %w", c.provider, context.DeadlineExceeded, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path, query), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %v", c.provider, path, errs.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w: %v", c.provider, path, errs.ErrTransient, err)
	}
	return nil
}

func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{
		Provider: c.provider,
		Status:   resp.StatusCode,
		Body:     strings.TrimSpace(string(raw)),
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		se.kind = errs.ErrRateLimited
		se.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case c.asleepStatus != 0 && resp.StatusCode == c.asleepStatus:
		se.kind = errs.ErrDeviceAsleep
	case resp.StatusCode == http.StatusUnauthorized:
		se.kind = errs.ErrCredentialExpired
	default:
		se.kind = errs.ErrTransient
	}
	return se
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
