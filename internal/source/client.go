package source

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/coldquant/accumscan/internal/config"
	"github.com/coldquant/accumscan/internal/domain"
	"github.com/coldquant/accumscan/internal/errs"
	"github.com/coldquant/accumscan/internal/metrics"
)

// Client wraps an Adapter with the shared upstream protections. One Client
// exists per provider so the rate limit and breaker state are shared across
// every concurrent caller hitting that provider.
type Client struct {
	adapter Adapter
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewClient builds a protected client around an adapter.
func NewClient(adapter Adapter, cfg config.SourceConfig, m *metrics.Metrics) *Client {
	maxFail := cfg.BreakerMaxFail
	if maxFail == 0 {
		maxFail = 5
	}

	settings := gobreaker.Settings{
		Name:    adapter.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFail
		},
	}

	timeout := time.Duration(cfg.CallTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 4 * time.Second
	}

	return &Client{
		adapter: adapter,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: timeout,
		metrics: m,
	}
}

// Fetch performs one rate-limited, breaker-guarded upstream call with its
// own timeout, independent of any job deadline the caller carries. Every
// returned error is already classified.
func (c *Client) Fetch(ctx context.Context, assetID string, field domain.Field) (interface{}, error) {
	c.metrics.AdapterCalls.WithLabelValues(c.adapter.Name(), string(field)).Inc()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.fail(assetID, errs.New(errs.KindDeadlineExceeded, "source.fetch", err))
	}

	// The per-call timeout must stay strictly under any remaining job
	// budget; callers with tighter deadlines win automatically because the
	// parent context expires first.
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	resCh := make(chan outcome, 1)
	go func() {
		value, err := c.breaker.Execute(func() (interface{}, error) {
			return c.adapter.Fetch(callCtx, assetID, field)
		})
		resCh <- outcome{value: value, err: err}
	}()

	// An adapter that ignores its context must not be allowed to hold the
	// caller past the timeout: the call is abandoned, never awaited.
	select {
	case res := <-resCh:
		if res.err != nil {
			return nil, c.fail(assetID, classify(res.err))
		}
		return res.value, nil
	case <-callCtx.Done():
		return nil, c.fail(assetID, errs.New(errs.KindNetwork, "source.fetch", callCtx.Err()))
	}
}

// Name returns the underlying provider name.
func (c *Client) Name() string { return c.adapter.Name() }

func (c *Client) fail(assetID string, err *errs.Error) error {
	c.metrics.AdapterErrors.WithLabelValues(c.adapter.Name(), string(err.Kind)).Inc()
	return err.WithAsset(assetID)
}

func classify(err error) *errs.Error {
	var typed *errs.Error
	if errors.As(err, &typed) {
		return typed
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errs.New(errs.KindNetwork, "source.fetch", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.New(errs.KindNetwork, "source.fetch", err)
	}
	return errs.New(errs.KindOf(err), "source.fetch", err)
}
