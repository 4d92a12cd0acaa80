// SPDX-License-Identifier: Apache-2.0

// Package oracle is the text-completion client used for structured field
// extraction and advisory validation. It tries interchangeable transports (a
// hosted API and a local CLI) in order, retries transient failures with
// backoff, and propagates billing and authentication failures immediately.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/gemaraproj/registry-review/internal/config"
)

// Request is one completion request.
type Request struct {
	// System is the instruction preamble.
	System string
	Prompt string
	// JSON asks the transport for a single JSON object reply.
	JSON      bool
	MaxTokens int
}

// Response contains the completion result.
type Response struct {
	Text      string
	Transport string
	Model     string
}

// Transport is one way of reaching the oracle.
type Transport interface {
	Name() string
	// Available reports whether the transport is configured on this host.
	Available() bool
	Complete(ctx context.Context, req Request) (Response, error)
}

// Observer receives one call per transport attempt outcome
// ("ok", "transient", "fatal").
type Observer func(transport, result string)

// Client tries transports in order with retry, rate limiting and fallback.
type Client struct {
	transports  []Transport
	retryConfig RetryConfig
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      *slog.Logger
	observe     Observer
}

// Option configures a Client.
type Option func(*Client)

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Client) {
		c.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit caps attempts per second across all transports. Zero
// disables limiting.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithObserver registers a callback for attempt outcomes.
func WithObserver(fn Observer) Option {
	return func(c *Client) {
		c.observe = fn
	}
}

// NewClient creates a client over transports, tried in the given order.
func NewClient(transports []Transport, opts ...Option) *Client {
	c := &Client{
		transports:  transports,
		retryConfig: DefaultRetryConfig(),
		logger:      slog.Default(),
		observe:     func(string, string) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromConfig builds the client described by cfg. Transport "auto" tries the
// hosted API first and falls back to the CLI; "none" yields a client with no
// transports.
func FromConfig(cfg config.OracleConfig, opts ...Option) (*Client, error) {
	var transports []Transport
	switch cfg.Transport {
	case "auto":
		transports = []Transport{NewAPITransport(cfg.API), NewCLITransport(cfg.CLI)}
	case "api":
		transports = []Transport{NewAPITransport(cfg.API)}
	case "cli":
		transports = []Transport{NewCLITransport(cfg.CLI)}
	case "none":
	default:
		return nil, fmt.Errorf("unknown oracle transport %q", cfg.Transport)
	}

	base := []Option{
		WithRetryConfig(RetryConfigFrom(cfg.Retry)),
		WithRateLimit(cfg.RequestsPerSecond),
		WithTimeout(cfg.Timeout),
	}
	return NewClient(transports, append(base, opts...)...), nil
}

// Available reports whether at least one transport can be used.
func (c *Client) Available() bool {
	return len(c.available()) > 0
}

// TransportNames returns the names of the usable transports in try order.
func (c *Client) TransportNames() []string {
	var names []string
	for _, t := range c.available() {
		names = append(names, t.Name())
	}
	return names
}

func (c *Client) available() []Transport {
	var out []Transport
	for _, t := range c.transports {
		if t.Available() {
			out = append(out, t)
		}
	}
	return out
}

// Complete sends req, handling retry and fallback. A fatal error from any
// transport is returned at once without trying the remaining transports.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	transports := c.available()
	if len(transports) == 0 {
		return Response{}, NewFatalError(KindConfig, "", ErrUnavailable)
	}

	var lastErr error
	for _, t := range transports {
		resp, err := c.tryWithRetry(ctx, t, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if IsFatal(err) {
			c.logger.Warn("oracle fatal error, not trying fallbacks", "transport", t.Name(), "error", err)
			return Response{}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		c.logger.Warn("oracle transport failed, trying fallback", "transport", t.Name(), "error", err)
	}
	return Response{}, fmt.Errorf("all oracle transports failed: %w", lastErr)
}

func (c *Client) tryWithRetry(ctx context.Context, t Transport, req Request) (Response, error) {
	attempts := c.retryConfig.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return Response{}, err
			}
		}

		resp, err := c.attempt(ctx, t, req)
		if err == nil {
			c.observe(t.Name(), "ok")
			resp.Transport = t.Name()
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		if IsFatal(err) {
			c.observe(t.Name(), "fatal")
			return Response{}, err
		}
		c.observe(t.Name(), "transient")
		if !IsTransient(err) {
			err = NewTransientError(t.Name(), err)
		}
		lastErr = err

		if attempt < attempts {
			backoff := c.retryConfig.backoff(attempt)
			c.logger.Debug("oracle request failed, retrying",
				"transport", t.Name(),
				"attempt", attempt,
				"max_attempts", attempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return Response{}, lastErr
}

func (c *Client) attempt(ctx context.Context, t Transport, req Request) (Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := t.Complete(ctx, req)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return Response{}, NewTransientError(t.Name(), fmt.Errorf("attempt timed out after %s", c.timeout))
	}
	return resp, err
}
