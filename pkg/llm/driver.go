package llm

import "context"

type StopReason string

const (
	StopToolUse      StopReason = "tool_use"
	StopEndTurn      StopReason = "end_turn"
	StopMaxTokens    StopReason = "max_tokens"
	StopSequence     StopReason = "stop_sequence"
	DefaultMaxTokens            = 4096
)

type Usage struct {
	InputTokens  int
	OutputTokens int
}

type Request struct {
	Model     string
	MaxTokens int
	System    string
	Messages  []Message
	// Tools is nil when no tools are connected; drivers omit the field then.
	Tools []Tool
}

type Response struct {
	StopReason StopReason
	Content    []ContentBlock
	Usage      Usage
}

// TokenSink receives visible text as the model produces it.
type TokenSink func(token string)

// Driver streams one model turn.
// Stream returns after the provider has finished the turn; tokens reach sink in order.
type Driver interface {
	Name() string
	Stream(ctx context.Context, req Request, sink TokenSink) (Response, error)
}
