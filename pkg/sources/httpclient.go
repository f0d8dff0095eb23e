// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/airweave/airweave-go/pkg/auth"
	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/logger"
)

const (
	defaultMaxAttempts   = 3
	defaultRetryAfter    = 30 * time.Second
	defaultRetryInterval = 500 * time.Millisecond
	defaultHTTPTimeout   = 30 * time.Second
)

// errRetryAfterRefresh triggers one more attempt after a token refresh.
var errRetryAfterRefresh = errors.New("retrying request with refreshed token")

// RequestBuilder constructs a fresh request for every attempt, so retries
// never reuse a consumed body and each attempt picks up the current access
// token.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// HTTPClient is the shared API client of connectors. It enforces the
// source's rate budget, retries transient failures with jittered
// exponential backoff, honors Retry-After on 429, trips a circuit breaker
// on consecutive failures, and refreshes OAuth tokens reactively on 401.
type HTTPClient struct {
	client        *http.Client
	limiter       *rate.Limiter
	breaker       *gobreaker.CircuitBreaker
	tokens        *auth.TokenManager
	refreshOn401  bool
	maxAttempts   uint
	retryInterval time.Duration
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.client = client }
}

// WithRateLimit declares the source's request budget.
func WithRateLimit(rps float64, burst int) HTTPOption {
	return func(c *HTTPClient) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithTokenManager wires reactive token refresh. retryAfterRefresh controls
// whether the failed request is replayed once with the new token.
func WithTokenManager(tm *auth.TokenManager, retryAfterRefresh bool) HTTPOption {
	return func(c *HTTPClient) {
		c.tokens = tm
		c.refreshOn401 = retryAfterRefresh
	}
}

// WithMaxAttempts caps total attempts per request, initial attempt included.
func WithMaxAttempts(n int) HTTPOption {
	return func(c *HTTPClient) {
		if n > 0 {
			c.maxAttempts = uint(n)
		}
	}
}

// WithRetryInterval sets the initial backoff interval.
func WithRetryInterval(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

// NewHTTPClient builds a client with the framework defaults: 30s request
// timeout, 3 attempts, no rate limit, breaker tripping after 5 consecutive
// failures.
func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		client:        &http.Client{Timeout: defaultHTTPTimeout},
		limiter:       rate.NewLimiter(rate.Inf, 0),
		maxAttempts:   defaultMaxAttempts,
		retryInterval: defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "source",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return c
}

// Do runs one logical request through the retry pipeline and returns a live
// response with status < 400. The caller owns the body.
func (c *HTTPClient) Do(ctx context.Context, build RequestBuilder) (*http.Response, error) {
	refreshed := false

	operation := func() (*http.Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		req, err := build(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if c.tokens != nil && req.Header.Get("Authorization") == "" {
			req.Header.Set("Authorization", "Bearer "+c.tokens.Current())
		}

		result, err := c.breaker.Execute(func() (any, error) {
			resp, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, fmt.Errorf("%w: %v", core.ErrTransient, doErr)
			}
			if resp.StatusCode >= http.StatusInternalServerError {
				closeBody(resp)
				return nil, fmt.Errorf("%w: %s returned status %d", core.ErrTransient, req.URL.Host, resp.StatusCode)
			}
			return resp, nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, fmt.Errorf("%w: circuit open for %s", core.ErrTransient, req.URL.Host)
			}
			return nil, err
		}
		resp := result.(*http.Response)

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			closeBody(resp)
			if c.tokens != nil && c.refreshOn401 && !refreshed {
				refreshed = true
				if _, rerr := c.tokens.RefreshOnUnauthorized(ctx); rerr != nil {
					return nil, backoff.Permanent(fmt.Errorf("%w: %v", core.ErrAuthFailed, rerr))
				}
				logger.Debugw("replaying request after token refresh", "url", req.URL.String())
				return nil, errRetryAfterRefresh
			}
			return nil, backoff.Permanent(fmt.Errorf("%w: %s returned status 401", core.ErrAuthFailed, req.URL.Host))

		case resp.StatusCode == http.StatusTooManyRequests:
			delay := retryAfterDelay(resp)
			closeBody(resp)
			logger.Warnw("rate limited by source", "url", req.URL.String(), "delay", delay.String())
			return nil, fmt.Errorf("%w: %w", core.ErrRateLimited, &backoff.RetryAfterError{Duration: delay})

		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			closeBody(resp)
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", core.ErrGone, req.URL))

		case resp.StatusCode >= http.StatusBadRequest:
			closeBody(resp)
			return nil, backoff.Permanent(fmt.Errorf("%s returned status %d", req.URL.Host, resp.StatusCode))
		}
		return resp, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryInterval

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(c.maxAttempts),
	)
}

// Get issues a GET through the retry pipeline.
func (c *HTTPClient) Get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	return c.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		return req, nil
	})
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	resp, err := c.Get(ctx, url, header)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", url, err)
	}
	return nil
}

// retryAfterDelay reads the server's advertised delay, defaulting to 30s
// when the header is missing or unparsable.
func retryAfterDelay(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
