// Package transport wraps outbound marketplace HTTP calls with bounded
// exponential backoff, Retry-After handling for 429 responses, and a
// process-wide request-rate governor.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vinylhaus/storefront/internal/metrics"
)

// Error is the typed failure returned when retries are exhausted. Callers
// decide whether to treat it as fatal or degrade to a default value.
type Error struct {
	URL      string
	Status   int // last HTTP status seen, 0 for pure network failures
	Attempts int
	Err      error // last underlying error, nil if the failure was a status code
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport: %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("transport: %s failed after %d attempts: status %d", e.URL, e.Attempts, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Config bounds the retry schedule.
type Config struct {
	MaxRetries int           // retries after the initial attempt
	BaseDelay  time.Duration // first backoff delay
	MaxDelay   time.Duration // ceiling for any single delay
}

// DefaultConfig matches the marketplace API's published rate-limit guidance.
var DefaultConfig = Config{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   5 * time.Second,
}

// Client issues HTTP requests with retry/backoff. It is safe for concurrent
// use; retry bookkeeping is per call, the governor is shared process-wide.
type Client struct {
	http     *http.Client
	cfg      Config
	governor *Governor
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewClient creates a retrying client. governor may be nil to disable
// rate-window blocking (tests).
func NewClient(hc *http.Client, cfg Config, governor *Governor) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	return &Client{
		http:     hc,
		cfg:      cfg,
		governor: governor,
		sleep:    sleepCtx,
	}
}

// Do issues the request, retrying on network failures and non-2xx statuses.
// A 429 sleeps for the Retry-After duration when present instead of the
// exponential delay; it consumes a retry but not a backoff step. The response
// body is owned by the caller on success.
func (c *Client) Do(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Response, error) {
	var lastStatus int
	var lastErr error
	backoffStep := 0

	attempts := c.cfg.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if c.governor != nil {
			if err := c.governor.Wait(ctx); err != nil {
				return nil, &Error{URL: url, Status: lastStatus, Attempts: attempt, Err: err}
			}
		}

		req, err := newRequest(ctx, method, url, body, header)
		if err != nil {
			return nil, err
		}

		resp, err := c.http.Do(req)
		metrics.MarketplaceRequests.WithLabelValues(method).Inc()
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		var delay time.Duration
		if err != nil {
			lastErr = err
			lastStatus = 0
			delay = c.backoff(backoffStep)
			backoffStep++
		} else {
			lastStatus = resp.StatusCode
			lastErr = nil
			retryAfter := resp.Header.Get("Retry-After")
			resp.Body.Close()

			if resp.StatusCode == http.StatusTooManyRequests {
				metrics.MarketplaceRateLimited.Inc()
				delay = c.retryAfterDelay(retryAfter, backoffStep)
			} else {
				delay = c.backoff(backoffStep)
				backoffStep++
			}
		}

		if attempt == attempts-1 {
			break
		}

		slog.Debug("retrying marketplace request",
			"url", url, "attempt", attempt+1, "status", lastStatus, "delay", delay)
		metrics.MarketplaceRetries.Inc()
		if err := c.sleep(ctx, delay); err != nil {
			return nil, &Error{URL: url, Status: lastStatus, Attempts: attempt + 1, Err: err}
		}
	}

	return nil, &Error{URL: url, Status: lastStatus, Attempts: attempts, Err: lastErr}
}

// backoff computes baseDelay * 2^step capped at maxDelay.
func (c *Client) backoff(step int) time.Duration {
	d := c.cfg.BaseDelay
	for i := 0; i < step; i++ {
		d *= 2
		if d >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	if d > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return d
}

// retryAfterDelay honors a Retry-After header in seconds, falling back to
// the exponential schedule when absent or unparseable. The 429 path never
// advances the backoff step.
func (c *Client) retryAfterDelay(header string, step int) time.Duration {
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return c.backoff(step)
}

func newRequest(ctx context.Context, method, url string, body []byte, header http.Header) (*http.Request, error) {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
