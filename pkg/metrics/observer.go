package metrics

import "time"

// Event names recorded by the chat engine.
const (
	EventSessionStart  = "session_start"
	EventSessionEnd    = "session_end"
	EventLLMTurn       = "llm_turn"
	EventToolCall      = "tool_call"
	EventLoopState     = "loop_state"
	EventMCPConnect    = "mcp_connect"
	EventMCPDisconnect = "mcp_disconnect"

	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"
	EventRateLimit     = "rate_limit"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Record is a nil-safe helper that stamps the event time when missing.
func Record(obs Observer, ev MetricsEvent) {
	if obs == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	obs.RecordEvent(ev)
}
