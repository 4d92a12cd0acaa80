// SPDX-License-Identifier: Apache-2.0

package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemaraproj/registry-review/internal/config"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// scriptedTransport returns the queued errors in order, then succeeds.
type scriptedTransport struct {
	name      string
	available bool
	errs      []error
	reply     string

	mu    sync.Mutex
	calls int
}

func (s *scriptedTransport) Name() string    { return s.name }
func (s *scriptedTransport) Available() bool { return s.available }

func (s *scriptedTransport) Complete(ctx context.Context, _ Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return Response{}, err
	}
	return Response{Text: s.reply}, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1,
		MaxBackoff:        time.Millisecond,
	}
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) observe(transport, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, transport+":"+result)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

func TestClient_RetriesTransientErrors(t *testing.T) {
	api := &scriptedTransport{
		name:      "api",
		available: true,
		errs:      []error{NewTransientError("api", errors.New("503")), errors.New("connection reset")},
		reply:     "done",
	}
	rec := &recorder{}
	c := NewClient([]Transport{api}, WithRetryConfig(fastRetry()), WithObserver(rec.observe), WithLogger(quietLogger()))

	resp, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, "api", resp.Transport)
	assert.Equal(t, 3, api.calls)
	assert.Equal(t, []string{"api:transient", "api:transient", "api:ok"}, rec.events)
}

func TestClient_FatalErrorStopsImmediately(t *testing.T) {
	api := &scriptedTransport{
		name:      "api",
		available: true,
		errs:      []error{NewFatalError(KindBilling, "api", errors.New("insufficient_quota"))},
	}
	cli := &scriptedTransport{name: "cli", available: true, reply: "should not be used"}
	c := NewClient([]Transport{api, cli}, WithRetryConfig(fastRetry()), WithLogger(quietLogger()))

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	fatal, ok := AsFatal(err)
	require.True(t, ok)
	assert.Equal(t, KindBilling, fatal.Kind)
	assert.Equal(t, 1, api.calls, "fatal errors are not retried")
	assert.Equal(t, 0, cli.calls, "fatal errors do not fall back")
}

func TestClient_FallsBackAfterTransientExhaustion(t *testing.T) {
	transient := NewTransientError("api", errors.New("overloaded"))
	api := &scriptedTransport{name: "api", available: true, errs: []error{transient, transient, transient}}
	cli := &scriptedTransport{name: "cli", available: true, reply: "from cli"}
	c := NewClient([]Transport{api, cli}, WithRetryConfig(fastRetry()), WithLogger(quietLogger()))

	resp, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "from cli", resp.Text)
	assert.Equal(t, "cli", resp.Transport)
	assert.Equal(t, 3, api.calls)
}

func TestClient_AllTransportsFail(t *testing.T) {
	transient := NewTransientError("api", errors.New("overloaded"))
	api := &scriptedTransport{name: "api", available: true, errs: []error{transient, transient, transient}}
	c := NewClient([]Transport{api}, WithRetryConfig(fastRetry()), WithLogger(quietLogger()))

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "all oracle transports failed")
}

func TestClient_SkipsUnavailableTransports(t *testing.T) {
	api := &scriptedTransport{name: "api", available: false}
	cli := &scriptedTransport{name: "cli", available: true, reply: "ok"}
	c := NewClient([]Transport{api, cli}, WithLogger(quietLogger()))

	assert.True(t, c.Available())
	assert.Equal(t, []string{"cli"}, c.TransportNames())

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, 0, api.calls)
}

func TestClient_NoTransports(t *testing.T) {
	c := NewClient(nil)
	assert.False(t, c.Available())

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	fatal, ok := AsFatal(err)
	require.True(t, ok)
	assert.Equal(t, KindConfig, fatal.Kind)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_CancelledContext(t *testing.T) {
	api := &scriptedTransport{name: "api", available: true, reply: "ok"}
	c := NewClient([]Transport{api}, WithRetryConfig(fastRetry()), WithRateLimit(1000), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, Request{Prompt: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().Oracle

	tests := []struct {
		transport string
		wantErr   bool
		wantNames int
	}{
		{"none", false, 0},
		{"auto", false, 2},
		{"api", false, 1},
		{"cli", false, 1},
		{"bogus", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.transport, func(t *testing.T) {
			cfg.Transport = tt.transport
			c, err := FromConfig(cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, c.transports, tt.wantNames)
		})
	}
}

// ---------------------------------------------------------------------------
// Retry
// ---------------------------------------------------------------------------

func TestRetryConfig_Backoff(t *testing.T) {
	r := RetryConfig{BackoffBase: 100 * time.Millisecond, BackoffMultiplier: 2, MaxBackoff: time.Second}

	tests := []struct {
		attempt int
		base    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
	}
	for _, tt := range tests {
		got := r.backoff(tt.attempt)
		assert.GreaterOrEqual(t, got, tt.base*3/4, "attempt %d", tt.attempt)
		assert.LessOrEqual(t, got, tt.base*5/4, "attempt %d", tt.attempt)
	}
}
