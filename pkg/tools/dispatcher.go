package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/mcpchat/pkg/errorsx"
	"github.com/harunnryd/mcpchat/pkg/llm"
	"github.com/harunnryd/mcpchat/pkg/metrics"
	"github.com/harunnryd/mcpchat/pkg/resilience"
)

// Caller is a live tool provider connection.
type Caller interface {
	CallTool(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// Connections looks up a live connection by provider name.
type Connections interface {
	Connection(name string) (Caller, bool)
}

type Options struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	Observer     metrics.Observer
	Logger       *slog.Logger
}

var ErrToolTimeout = errors.New("tool timeout")

// Dispatcher routes a tool_use request to the provider that owns the tool.
// It never returns an error: every failure is folded into the Result.
type Dispatcher struct {
	registry *Registry
	conns    Connections
	opts     Options
	steps    StepObserver
}

func NewDispatcher(registry *Registry, conns Connections, opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Dispatcher{registry: registry, conns: conns, opts: opts}
}

// WithSteps returns a copy of d that reports step events to obs.
func (d *Dispatcher) WithSteps(obs StepObserver) *Dispatcher {
	cp := *d
	cp.steps = obs
	return &cp
}

func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ToolUseBlock) Result {
	start := time.Now()
	res := Result{ToolUseID: call.ID, Tool: call.Name}

	// The step wraps resolution too, so lookup failures are shown to the user.
	provider, ok := d.registry.Resolve(call.Name)
	d.emit(Step{ID: call.ID, Phase: StepStart, Tool: call.Name, Provider: provider, Input: call.Arguments()})
	if !ok {
		res.Err = errorsx.New(errorsx.ReasonToolNotFound, "tool %s not found in any provider", call.Name)
		return d.finish(res, start, "not_found")
	}
	res.Provider = provider

	conn, ok := d.lookup(provider)
	if !ok {
		res.Err = errorsx.New(errorsx.ReasonToolConnection, "%s connection not found", provider)
		return d.finish(res, start, "no_connection")
	}

	out, err := d.callWithRetry(ctx, conn, call)
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, ErrToolTimeout) {
			status = "timeout"
			err = errorsx.Wrap(err, errorsx.ReasonToolTimeout)
		} else {
			err = errorsx.Wrap(err, errorsx.ReasonToolCall)
		}
		res.Err = err
	} else {
		res.Output = out
	}
	return d.finish(res, start, status)
}

func (d *Dispatcher) lookup(provider string) (Caller, bool) {
	if d.conns == nil {
		return nil, false
	}
	conn, ok := d.conns.Connection(provider)
	if !ok || conn == nil {
		return nil, false
	}
	return conn, true
}

func (d *Dispatcher) callWithRetry(ctx context.Context, conn Caller, call llm.ToolUseBlock) (string, error) {
	var out string
	policy := resilience.NewRetryPolicy(d.opts.Retries, d.opts.RetryBackoff)
	err := policy.Do(ctx, func(ctx context.Context) error {
		res, err := d.callWithTimeout(ctx, conn, call)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

func (d *Dispatcher) callWithTimeout(ctx context.Context, conn Caller, call llm.ToolUseBlock) (string, error) {
	if d.opts.Timeout <= 0 {
		return conn.CallTool(ctx, call.Name, call.Arguments())
	}
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	type result struct {
		text string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		text, err := conn.CallTool(ctx, call.Name, call.Arguments())
		ch <- result{text: text, err: err}
	}()
	select {
	case out := <-ch:
		if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrToolTimeout, d.opts.Timeout)
		}
		return out.text, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrToolTimeout, d.opts.Timeout)
		}
		return "", ctx.Err()
	}
}

func (d *Dispatcher) finish(res Result, start time.Time, status string) Result {
	dur := time.Since(start)
	res.Duration = dur
	d.emit(Step{
		ID:       res.ToolUseID,
		Phase:    StepEnd,
		Tool:     res.Tool,
		Provider: res.Provider,
		Output:   res.Content(),
		IsError:  !res.OK(),
		Duration: dur,
	})
	attrs := []any{"tool_name", res.Tool, "provider", res.Provider, "status", status, "duration_ms", dur.Milliseconds()}
	if res.Err != nil {
		d.opts.Logger.Warn("tool_dispatch_failed", append(attrs, "reason_code", errorsx.Reason(res.Err), "error", res.Err)...)
	} else {
		d.opts.Logger.Info("tool_dispatch", attrs...)
	}
	metrics.Record(d.opts.Observer, metrics.MetricsEvent{
		Name:  metrics.EventToolCall,
		Value: float64(dur.Milliseconds()),
		Tags:  map[string]string{"tool": res.Tool, "provider": res.Provider, "status": status},
	})
	return res
}

func (d *Dispatcher) emit(step Step) {
	if d.steps != nil {
		d.steps.Step(step)
	}
}
