package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harunnryd/mcpchat/pkg/errorsx"
	"github.com/harunnryd/mcpchat/pkg/metrics"
	"github.com/harunnryd/mcpchat/pkg/resilience"
)

var errCircuitOpen = errors.New("llm circuit open")

// CircuitBreakerDriver wraps a Driver with rate-limit circuit breaking.
type CircuitBreakerDriver struct {
	inner   Driver
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
	open    bool
	mu      sync.Mutex
}

func NewCircuitBreakerDriver(inner Driver, breaker *resilience.CircuitBreaker) *CircuitBreakerDriver {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerDriver{inner: inner, breaker: breaker}
}

func (d *CircuitBreakerDriver) Name() string { return d.inner.Name() }

// SetObserver allows metrics emission for breaker events.
func (d *CircuitBreakerDriver) SetObserver(obs metrics.Observer) { d.obs = obs }

func (d *CircuitBreakerDriver) Stream(ctx context.Context, req Request, sink TokenSink) (Response, error) {
	if !d.breaker.Allow() {
		d.setOpen(true)
		d.record(metrics.EventBreakerDenied)
		err := resilience.RateLimitError{Provider: d.Name(), Message: "degraded"}
		return Response{}, errorsx.Wrap(fmt.Errorf("%w: %w", errCircuitOpen, err), errorsx.ReasonLLMCircuitOpen)
	}
	d.setOpen(false)
	resp, err := d.inner.Stream(ctx, req, sink)
	if err != nil {
		if resilience.IsRateLimit(err) {
			d.record(metrics.EventRateLimit)
		}
		d.breaker.OnError(err)
		return Response{}, err
	}
	d.breaker.OnSuccess()
	return resp, nil
}

func (d *CircuitBreakerDriver) record(name string) {
	metrics.Record(d.obs, metrics.MetricsEvent{
		Name: name,
		Tags: map[string]string{
			"provider":  d.inner.Name(),
			"component": "llm",
		},
	})
}

func (d *CircuitBreakerDriver) setOpen(open bool) {
	d.mu.Lock()
	changed := d.open != open
	d.open = open
	d.mu.Unlock()
	if !changed {
		return
	}
	if open {
		d.record(metrics.EventBreakerOpen)
		return
	}
	d.record(metrics.EventBreakerClose)
}
