package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/harunnryd/mcpchat/pkg/resilience"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	IsRetryable func(error) bool
	// Sleep replaces the timer wait. Nil waits on a timer that ends early when ctx is done.
	Sleep func(time.Duration)
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 2 * time.Second
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	return cfg
}

// Retry calls fn until it succeeds or attempts run out. MaxAttempts of 0 means one attempt.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) (Response, error)) (Response, error) {
	cfg = cfg.withDefaults()
	var lastErr error
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < cfg.MaxAttempts; i++ {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !cfg.IsRetryable(err) || i == cfg.MaxAttempts-1 {
			break
		}
		delay := backoffDelay(cfg.BaseDelay, cfg.MaxDelay, cfg.Jitter, i, r)
		if wait, ok := resilience.RetryAfter(err); ok && wait > delay {
			delay = wait
		}
		if err := cfg.wait(ctx, delay); err != nil {
			return Response{}, err
		}
	}
	if cfg.MaxAttempts == 1 {
		return Response{}, lastErr
	}
	return Response{}, fmt.Errorf("llm retry failed: %w", lastErr)
}

func (cfg RetryConfig) wait(ctx context.Context, d time.Duration) error {
	if cfg.Sleep != nil {
		cfg.Sleep(d)
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func backoffDelay(base, max time.Duration, jitter float64, attempt int, r *rand.Rand) time.Duration {
	pow := math.Pow(2, float64(attempt))
	d := time.Duration(float64(base) * pow)
	if d > max {
		d = max
	}
	if jitter > 0 {
		j := time.Duration(float64(d) * jitter * r.Float64())
		return d + j
	}
	return d
}

// RetryDriver retries a turn that failed before any token was streamed.
// Once the user has seen partial output the failure is returned as is.
type RetryDriver struct {
	inner Driver
	cfg   RetryConfig
}

func NewRetryDriver(inner Driver, cfg RetryConfig) *RetryDriver {
	return &RetryDriver{inner: inner, cfg: cfg}
}

func (d *RetryDriver) Name() string { return d.inner.Name() }

func (d *RetryDriver) Stream(ctx context.Context, req Request, sink TokenSink) (Response, error) {
	streamed := false
	cfg := d.cfg
	base := cfg.withDefaults().IsRetryable
	cfg.IsRetryable = func(err error) bool {
		if streamed || errors.Is(err, errCircuitOpen) {
			return false
		}
		if resilience.IsRateLimit(err) {
			return true
		}
		return base(err)
	}
	return Retry(ctx, cfg, func(ctx context.Context) (Response, error) {
		return d.inner.Stream(ctx, req, func(tok string) {
			streamed = true
			if sink != nil {
				sink(tok)
			}
		})
	})
}
