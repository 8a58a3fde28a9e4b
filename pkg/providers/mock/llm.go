package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/harunnryd/mcpchat/pkg/llm"
)

// Turn is one scripted model reply.
type Turn struct {
	Text         string
	StreamChunks []string
	ToolCalls    []ToolCall
	StopReason   llm.StopReason
	Err          error
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

type LLMConfig struct {
	// Turns are replayed in order; the last one repeats once the script runs out.
	Turns []Turn
}

// Driver is a scripted llm.Driver for tests and offline demos.
type Driver struct {
	mu       sync.Mutex
	cfg      LLMConfig
	next     int
	requests []llm.Request
}

func NewDriver(cfg LLMConfig) *Driver {
	if len(cfg.Turns) == 0 {
		cfg.Turns = []Turn{{Text: "mock response"}}
	}
	return &Driver{cfg: cfg}
}

func (d *Driver) Name() string { return "mock_llm" }

func (d *Driver) Stream(ctx context.Context, req llm.Request, sink llm.TokenSink) (llm.Response, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	idx := d.next
	if idx >= len(d.cfg.Turns) {
		idx = len(d.cfg.Turns) - 1
	} else {
		d.next++
	}
	turn := d.cfg.Turns[idx]
	d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	chunks := turn.StreamChunks
	if len(chunks) == 0 && turn.Text != "" {
		chunks = []string{turn.Text}
	}
	for _, c := range chunks {
		if sink != nil {
			sink(c)
		}
	}
	if turn.Err != nil {
		return llm.Response{}, turn.Err
	}

	var blocks []llm.ContentBlock
	if text := strings.Join(chunks, ""); text != "" {
		blocks = append(blocks, llm.TextBlock{Text: text})
	}
	for i, tc := range turn.ToolCalls {
		id := strings.TrimSpace(tc.ID)
		if id == "" {
			id = fmt.Sprintf("mock-tool-%d-%d", idx+1, i+1)
		}
		input, err := json.Marshal(tc.Arguments)
		if err != nil {
			return llm.Response{}, err
		}
		if tc.Arguments == nil {
			input = json.RawMessage("{}")
		}
		blocks = append(blocks, llm.ToolUseBlock{ID: id, Name: tc.Name, Input: input})
	}
	stop := turn.StopReason
	if stop == "" {
		stop = llm.StopEndTurn
		if len(turn.ToolCalls) > 0 {
			stop = llm.StopToolUse
		}
	}
	return llm.Response{StopReason: stop, Content: blocks}, nil
}

// Requests returns every request the driver has received.
func (d *Driver) Requests() []llm.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]llm.Request, len(d.requests))
	copy(out, d.requests)
	return out
}
