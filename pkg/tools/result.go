package tools

import (
	"encoding/json"
	"time"

	"github.com/harunnryd/mcpchat/pkg/llm"
)

// Result is the outcome of one dispatched tool call. Exactly one of Output or
// Err is meaningful.
type Result struct {
	ToolUseID string
	Tool      string
	Provider  string
	Output    string
	Err       error
	Duration  time.Duration
}

func (r Result) OK() bool { return r.Err == nil }

// Content is the payload handed back to the model. Failures are rendered as
// {"error": "<message>"}.
func (r Result) Content() string {
	if r.Err == nil {
		return r.Output
	}
	raw, err := json.Marshal(map[string]string{"error": r.Err.Error()})
	if err != nil {
		return `{"error":"tool failed"}`
	}
	return string(raw)
}

func (r Result) Block() llm.ToolResultBlock {
	return llm.ToolResultBlock{ToolUseID: r.ToolUseID, Content: r.Content(), IsError: !r.OK()}
}

type StepPhase string

const (
	StepStart StepPhase = "start"
	StepEnd   StepPhase = "end"
)

// Step describes a tool call for display. It carries no control flow.
type Step struct {
	ID       string          `json:"id"`
	Phase    StepPhase       `json:"phase"`
	Tool     string          `json:"tool"`
	Provider string          `json:"provider,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Output   string          `json:"output,omitempty"`
	IsError  bool            `json:"is_error"`
	Duration time.Duration   `json:"-"`
}

// DurationMillis is the wire form of Duration.
func (s Step) DurationMillis() int64 { return s.Duration.Milliseconds() }

type StepObserver interface {
	Step(step Step)
}

type StepObserverFunc func(Step)

func (f StepObserverFunc) Step(step Step) { f(step) }
