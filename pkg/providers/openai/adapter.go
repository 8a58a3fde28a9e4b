package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/mcpchat/pkg/llm"
	"github.com/harunnryd/mcpchat/pkg/resilience"
)

// Adapter speaks the chat-completions streaming API and presents it as an
// llm.Driver so OpenAI-compatible endpoints can stand in for Claude.
type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) MapTools(tools []llm.Tool) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		params := t.InputSchema
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return out
}

func (a *Adapter) Stream(ctx context.Context, input llm.Request, sink llm.TokenSink) (llm.Response, error) {
	body, err := a.buildRequest(input)
	if err != nil {
		return llm.Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.BaseURL, "/")+"/chat/completions", body)
	if err != nil {
		return llm.Response{}, err
	}
	a.applyHeaders(req)
	resp, err := a.client().Do(req)
	if err != nil {
		return llm.Response{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		raw, _ := io.ReadAll(resp.Body)
		return llm.Response{}, resilience.RateLimitError{Provider: "openai", Message: string(raw)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return llm.Response{}, fmt.Errorf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return readStream(ctx, resp.Body, sink)
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func readStream(ctx context.Context, r io.Reader, sink llm.TokenSink) (llm.Response, error) {
	var (
		text   strings.Builder
		calls  = map[int]*pendingCall{}
		finish string
		usage  llm.Usage
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return llm.Response{}, err
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage = llm.Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		first := chunk.Choices[0]
		if first.Delta.Content != "" {
			text.WriteString(first.Delta.Content)
			if sink != nil {
				sink(first.Delta.Content)
			}
		}
		for _, tc := range first.Delta.ToolCalls {
			call, ok := calls[tc.Index]
			if !ok {
				call = &pendingCall{}
				calls[tc.Index] = call
			}
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)
		}
		if first.FinishReason != "" {
			finish = first.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return llm.Response{}, err
	}

	out := llm.Response{StopReason: mapFinishReason(finish), Usage: usage}
	if text.Len() > 0 {
		out.Content = append(out.Content, llm.TextBlock{Text: text.String()})
	}
	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		call := calls[idx]
		args := strings.TrimSpace(call.args.String())
		if args == "" {
			args = "{}"
		}
		out.Content = append(out.Content, llm.ToolUseBlock{ID: call.id, Name: call.name, Input: json.RawMessage(args)})
	}
	return out, nil
}

func mapFinishReason(reason string) llm.StopReason {
	switch reason {
	case "tool_calls", "function_call":
		return llm.StopToolUse
	case "length":
		return llm.StopMaxTokens
	case "stop", "":
		return llm.StopEndTurn
	default:
		return llm.StopReason(reason)
	}
}

func (a *Adapter) buildRequest(input llm.Request) (*bytes.Buffer, error) {
	model := input.Model
	if a.Model != "" {
		model = a.Model
	}
	req := map[string]any{
		"model":          model,
		"stream":         true,
		"messages":       toMessages(input.System, input.Messages),
		"stream_options": map[string]any{"include_usage": true},
	}
	if input.MaxTokens > 0 {
		req["max_tokens"] = input.MaxTokens
	}
	if len(input.Tools) > 0 {
		req["tools"] = a.MapTools(input.Tools)
		req["tool_choice"] = "auto"
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	return bytes.NewBuffer(b), nil
}

// toMessages flattens block-structured history into chat-completions
// messages. Tool results become individual "tool" role messages.
func toMessages(system string, history []llm.Message) []map[string]any {
	out := make([]map[string]any, 0, len(history)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, map[string]any{"role": "system", "content": system})
	}
	for _, m := range history {
		var (
			text  strings.Builder
			calls []map[string]any
		)
		for _, b := range m.Content {
			switch v := b.(type) {
			case llm.TextBlock:
				text.WriteString(v.Text)
			case llm.ToolUseBlock:
				calls = append(calls, map[string]any{
					"id":   v.ID,
					"type": "function",
					"function": map[string]any{
						"name":      v.Name,
						"arguments": string(v.Arguments()),
					},
				})
			case llm.ToolResultBlock:
				out = append(out, map[string]any{
					"role":         "tool",
					"tool_call_id": v.ToolUseID,
					"content":      v.Content,
				})
			}
		}
		if m.Role == llm.RoleAssistant {
			msg := map[string]any{"role": "assistant", "content": text.String()}
			if len(calls) > 0 {
				msg["tool_calls"] = calls
				if text.Len() == 0 {
					msg["content"] = nil
				}
			}
			out = append(out, msg)
			continue
		}
		if text.Len() > 0 {
			out = append(out, map[string]any{"role": "user", "content": text.String()})
		}
	}
	return out
}

func (a *Adapter) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}
