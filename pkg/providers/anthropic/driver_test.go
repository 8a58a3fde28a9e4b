package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/harunnryd/mcpchat/pkg/llm"
	"github.com/harunnryd/mcpchat/pkg/resilience"
)

func sseEvent(w io.Writer, name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func TestDriverStreamsTextAndToolUse(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":1}}}`)
		sseEvent(w, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me "}}`)
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"check."}}`)
		sseEvent(w, "content_block_stop", `{"type":"content_block_stop","index":0}`)
		sseEvent(w, "content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{}}}`)
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"city\": \"Tokyo\"}"}}`)
		sseEvent(w, "content_block_stop", `{"type":"content_block_stop","index":1}`)
		sseEvent(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":20}}`)
		sseEvent(w, "message_stop", `{"type":"message_stop"}`)
	}))
	defer srv.Close()

	d := New(Config{APIKey: "test", BaseURL: srv.URL})
	var tokens []string
	resp, err := d.Stream(context.Background(), llm.Request{
		Messages: []llm.Message{llm.UserText("What's the weather in Tokyo?")},
		Tools: []llm.Tool{{
			Name:        "get_weather",
			Description: "Current weather",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{"city": map[string]any{"type": "string"}}, "required": []any{"city"}},
		}},
	}, func(tok string) { tokens = append(tokens, tok) })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(tokens, "") != "Let me check." {
		t.Fatalf("unexpected tokens %v", tokens)
	}
	if resp.StopReason != llm.StopToolUse {
		t.Fatalf("expected tool_use, got %q", resp.StopReason)
	}
	tu, ok := llm.FirstToolUse(resp.Content)
	if !ok || tu.ID != "toolu_1" || tu.Name != "get_weather" {
		t.Fatalf("unexpected tool use %+v", tu)
	}
	var args map[string]any
	if err := json.Unmarshal(tu.Input, &args); err != nil || args["city"] != "Tokyo" {
		t.Fatalf("unexpected tool input %s (%v)", tu.Input, err)
	}

	if captured["model"] != DefaultModel {
		t.Fatalf("expected default model, got %v", captured["model"])
	}
	if captured["max_tokens"] != float64(4096) {
		t.Fatalf("expected max_tokens 4096, got %v", captured["max_tokens"])
	}
	tools, _ := captured["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected one tool in request, got %v", captured["tools"])
	}
}

func TestDriverOmitsToolsWhenEmpty(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "message_start", `{"type":"message_start","message":{"id":"msg_2","type":"message","role":"assistant","model":"m","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":1,"output_tokens":1}}}`)
		sseEvent(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":1}}`)
		sseEvent(w, "message_stop", `{"type":"message_stop"}`)
	}))
	defer srv.Close()

	d := New(Config{APIKey: "test", BaseURL: srv.URL, Model: "claude-test"})
	resp, err := d.Stream(context.Background(), llm.Request{Messages: []llm.Message{llm.UserText("hi")}}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if resp.StopReason != llm.StopEndTurn || len(resp.Content) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if _, ok := captured["tools"]; ok {
		t.Fatalf("expected tools omitted, got %v", captured["tools"])
	}
	if captured["model"] != "claude-test" {
		t.Fatalf("expected configured model, got %v", captured["model"])
	}
}

func TestDriverMapsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("retry-after", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	d := New(Config{APIKey: "test", BaseURL: srv.URL})
	_, err := d.Stream(context.Background(), llm.Request{Messages: []llm.Message{llm.UserText("hi")}}, nil)
	if !resilience.IsRateLimit(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if wait, ok := resilience.RetryAfter(err); !ok || wait != 3*time.Second {
		t.Fatalf("expected retry-after of 3s, got %v %v", wait, ok)
	}
}

func TestToMessageParamsShapesToolTurn(t *testing.T) {
	history := []llm.Message{
		llm.UserText("weather?"),
		llm.AssistantBlocks([]llm.ContentBlock{
			llm.TextBlock{Text: ""},
			llm.ToolUseBlock{ID: "toolu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"Tokyo"}`)},
		}),
		llm.ToolResultMessage(llm.ToolResultBlock{ToolUseID: "toolu_1", Content: `{"temp":22}`}),
	}
	params := toMessageParams(history)
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(decoded))
	}
	assistant := decoded[1]["content"].([]any)
	if len(assistant) != 1 {
		t.Fatalf("expected empty text dropped, got %v", assistant)
	}
	if assistant[0].(map[string]any)["type"] != "tool_use" {
		t.Fatalf("expected tool_use block, got %v", assistant[0])
	}
	result := decoded[2]["content"].([]any)[0].(map[string]any)
	if decoded[2]["role"] != "user" || result["type"] != "tool_result" || result["tool_use_id"] != "toolu_1" {
		t.Fatalf("unexpected tool result message %v", decoded[2])
	}
}
