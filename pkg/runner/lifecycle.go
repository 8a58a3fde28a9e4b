package runner

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDrainTimeout is returned by Stop when draining outlives the timeout.
var ErrDrainTimeout = errors.New("drain timeout")

// Lifecycle runs a service until its context ends, then drains it once.
type Lifecycle struct {
	state    atomic.Int32
	cancel   context.CancelFunc
	mu       sync.Mutex
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	timeout  time.Duration

	Title  string
	Banner io.Writer
}

func NewLifecycle(drainer Drainer, hooks Hooks, timeout time.Duration) *Lifecycle {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Lifecycle{hooks: hooks, drainer: drainer, timeout: timeout, Title: "MCPCHAT"}
}

// Run blocks until ctx is cancelled or Stop is called.
func (r *Lifecycle) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateNew), int32(StateStarting)) {
		return errors.New("invalid state transition")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	if r.Banner != nil {
		PrintBanner(r.Banner, r.Title)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.state.Store(int32(StateRunning))
	<-ctx.Done()
	return r.stop()
}

func (r *Lifecycle) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return r.stop()
}

func (r *Lifecycle) State() State {
	return State(r.state.Load())
}

func (r *Lifecycle) stop() error {
	r.onceStop.Do(func() {
		r.state.Store(int32(StateDraining))
		if r.drainer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			done := make(chan error, 1)
			go func() { done <- r.drainer.Drain(ctx) }()
			select {
			case err := <-done:
				r.stopErr = err
			case <-ctx.Done():
				r.stopErr = ErrDrainTimeout
			}
			cancel()
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		r.state.Store(int32(StateStopped))
	})
	return r.stopErr
}

var _ Runner = (*Lifecycle)(nil)
