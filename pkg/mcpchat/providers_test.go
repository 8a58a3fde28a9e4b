package mcpchat

import (
	"context"
	"strings"
	"testing"

	"github.com/harunnryd/mcpchat/pkg/llm"
)

func configWith(provider string, settings map[string]any) Config {
	return Config{Vendors: VendorsConfig{LLM: VendorConfig{Provider: provider, Settings: settings}}}
}

func TestDefaultProvidersRegistered(t *testing.T) {
	reg := NewProviderRegistry()
	RegisterDefaultProviders(reg)
	got := strings.Join(reg.LLMProviders(), ",")
	if got != "anthropic,mock,openai" {
		t.Fatalf("unexpected providers: %s", got)
	}
	if _, err := reg.BuildLLM("gemini", Config{}); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}

func TestAnthropicRequiresAPIKey(t *testing.T) {
	reg := NewProviderRegistry()
	RegisterDefaultProviders(reg)
	_, err := reg.BuildLLM("anthropic", configWith("anthropic", map[string]any{"model": "x"}))
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("expected api_key error, got %v", err)
	}
	_, err = reg.BuildLLM("anthropic", configWith("anthropic", map[string]any{"api_key": "k", "temperature": 1}))
	if err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestAnthropicDecorators(t *testing.T) {
	reg := NewProviderRegistry()
	RegisterDefaultProviders(reg)
	b, err := reg.BuildLLM("Anthropic", configWith("anthropic", map[string]any{
		"api_key":           "k",
		"retries":           "2",
		"breaker_threshold": 3,
	}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if b.Model != "claude-sonnet-4-20250514" || b.MaxTokens != llm.DefaultMaxTokens {
		t.Fatalf("unexpected defaults: %+v", b)
	}
	if b.Breaker == nil {
		t.Fatalf("expected circuit breaker")
	}
	if _, ok := b.Driver.(*llm.RetryDriver); !ok {
		t.Fatalf("expected retry driver outermost, got %T", b.Driver)
	}
	if b.Driver.Name() != "anthropic" {
		t.Fatalf("decorators should keep the driver name, got %s", b.Driver.Name())
	}
}

func TestOpenAIBinding(t *testing.T) {
	reg := NewProviderRegistry()
	RegisterDefaultProviders(reg)
	b, err := reg.BuildLLM("openai", configWith("openai", map[string]any{"api_key": "k"}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if b.Model != defaultOpenAIModel || b.Breaker != nil || b.Driver.Name() != "openai" {
		t.Fatalf("unexpected binding: %+v", b)
	}
}

func TestMockProviderScriptsToolCall(t *testing.T) {
	reg := NewProviderRegistry()
	RegisterDefaultProviders(reg)
	b, err := reg.BuildLLM("mock", configWith("mock", map[string]any{
		"tool_name":  "get_weather",
		"tool_input": `{"city":"Tokyo"}`,
		"final":      "Sunny.",
	}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	resp, err := b.Driver.Stream(context.Background(), llm.Request{}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	call, ok := llm.FirstToolUse(resp.Content)
	if !ok || call.Name != "get_weather" || string(call.Arguments()) != `{"city":"Tokyo"}` {
		t.Fatalf("unexpected tool call: %+v", resp.Content)
	}
	resp, err = b.Driver.Stream(context.Background(), llm.Request{}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if text, _ := llm.FirstText(resp.Content); text != "Sunny." {
		t.Fatalf("unexpected final text %q", text)
	}
}

func TestMockProviderRejectsBadToolInput(t *testing.T) {
	reg := NewProviderRegistry()
	RegisterDefaultProviders(reg)
	if _, err := reg.BuildLLM("mock", configWith("mock", map[string]any{"tool_name": "x", "tool_input": "{"})); err == nil {
		t.Fatalf("expected tool_input error")
	}
}

func TestSanitizeInput(t *testing.T) {
	cases := map[string]string{
		"<b>weather</b> in Tokyo?":    "weather in Tokyo?",
		"<script>alert(1)</script>hi": "hi",
		"Tom's 5 > 3 & fine":          "Tom's 5 > 3 & fine",
		"  plain  ":                   "plain",
	}
	for in, want := range cases {
		if got := sanitizeInput(in); got != want {
			t.Fatalf("sanitizeInput(%q) = %q, want %q", in, got, want)
		}
	}
}
