package mcpchat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harunnryd/mcpchat/pkg/configutil"
	"github.com/harunnryd/mcpchat/pkg/llm"
	"github.com/harunnryd/mcpchat/pkg/providers/anthropic"
	"github.com/harunnryd/mcpchat/pkg/providers/mock"
	"github.com/harunnryd/mcpchat/pkg/providers/openai"
	"github.com/harunnryd/mcpchat/pkg/resilience"
)

const settingsPath = "vendors.llm.settings"

// Decorator settings shared by the remote providers.
var resilienceKeys = []string{"retries", "retry_backoff_ms", "breaker_threshold", "breaker_cooldown_ms"}

type resilienceSettings struct {
	Retries           int `mapstructure:"retries"`
	RetryBackoffMS    int `mapstructure:"retry_backoff_ms"`
	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int `mapstructure:"breaker_cooldown_ms"`
}

type anthropicSettings struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int    `mapstructure:"max_tokens"`

	Resilience resilienceSettings `mapstructure:",squash"`
}

type openAISettings struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	MaxTokens int    `mapstructure:"max_tokens"`

	Resilience resilienceSettings `mapstructure:",squash"`
}

type mockSettings struct {
	Replies   []string `mapstructure:"replies"`
	ToolName  string   `mapstructure:"tool_name"`
	ToolInput string   `mapstructure:"tool_input"`
	Final     string   `mapstructure:"final"`
}

const defaultOpenAIModel = "gpt-4o-mini"

// RegisterDefaultProviders registers the anthropic, openai and mock drivers.
func RegisterDefaultProviders(reg *ProviderRegistry) {
	reg.RegisterLLM("anthropic", func(cfg Config) (LLMBinding, error) {
		if err := validateSettings(cfg.Vendors.LLM.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: append([]string{"model", "base_url", "max_tokens"}, resilienceKeys...),
		}); err != nil {
			return LLMBinding{}, err
		}
		var s anthropicSettings
		if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &s); err != nil {
			return LLMBinding{}, err
		}
		if err := configutil.RequireString(s.APIKey, settingsPath+".api_key"); err != nil {
			return LLMBinding{}, err
		}
		if s.Model == "" {
			s.Model = anthropic.DefaultModel
		}
		if s.MaxTokens <= 0 {
			s.MaxTokens = llm.DefaultMaxTokens
		}
		driver := anthropic.New(anthropic.Config{APIKey: s.APIKey, Model: s.Model, BaseURL: s.BaseURL, MaxTokens: s.MaxTokens})
		return decorate(LLMBinding{Driver: driver, Model: s.Model, MaxTokens: s.MaxTokens}, s.Resilience), nil
	})

	reg.RegisterLLM("openai", func(cfg Config) (LLMBinding, error) {
		if err := validateSettings(cfg.Vendors.LLM.Settings, configutil.Schema{
			Required: []string{"api_key"},
			Optional: append([]string{"model", "base_url", "max_tokens"}, resilienceKeys...),
		}); err != nil {
			return LLMBinding{}, err
		}
		var s openAISettings
		if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &s); err != nil {
			return LLMBinding{}, err
		}
		if err := configutil.RequireString(s.APIKey, settingsPath+".api_key"); err != nil {
			return LLMBinding{}, err
		}
		if s.Model == "" {
			s.Model = defaultOpenAIModel
		}
		if s.MaxTokens <= 0 {
			s.MaxTokens = llm.DefaultMaxTokens
		}
		adapter := openai.NewAdapter(s.APIKey, s.Model)
		if s.BaseURL != "" {
			adapter.BaseURL = s.BaseURL
		}
		return decorate(LLMBinding{Driver: adapter, Model: s.Model, MaxTokens: s.MaxTokens}, s.Resilience), nil
	})

	reg.RegisterLLM("mock", func(cfg Config) (LLMBinding, error) {
		if err := validateSettings(cfg.Vendors.LLM.Settings, configutil.Schema{
			Optional: []string{"replies", "tool_name", "tool_input", "final"},
		}); err != nil {
			return LLMBinding{}, err
		}
		var s mockSettings
		if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &s); err != nil {
			return LLMBinding{}, err
		}
		turns, err := mockTurns(s)
		if err != nil {
			return LLMBinding{}, err
		}
		return LLMBinding{Driver: mock.NewDriver(mock.LLMConfig{Turns: turns}), Model: "mock"}, nil
	})
}

// mockTurns scripts an optional single tool call followed by text replies.
func mockTurns(s mockSettings) ([]mock.Turn, error) {
	var turns []mock.Turn
	if s.ToolName != "" {
		args := map[string]any{}
		if s.ToolInput != "" {
			if err := json.Unmarshal([]byte(s.ToolInput), &args); err != nil {
				return nil, fmt.Errorf("%s.tool_input: %w", settingsPath, err)
			}
		}
		turns = append(turns, mock.Turn{ToolCalls: []mock.ToolCall{{Name: s.ToolName, Arguments: args}}})
		final := s.Final
		if final == "" {
			final = "Done."
		}
		turns = append(turns, mock.Turn{Text: final})
	}
	for _, r := range s.Replies {
		turns = append(turns, mock.Turn{Text: r})
	}
	return turns, nil
}

// decorate wraps the driver in a circuit breaker and then a retry loop, so
// every retry attempt is counted by the breaker.
func decorate(b LLMBinding, s resilienceSettings) LLMBinding {
	if s.BreakerThreshold > 0 {
		cooldown := configutil.Millis(s.BreakerCooldownMS, 30*time.Second)
		b.Breaker = llm.NewCircuitBreakerDriver(b.Driver, resilience.NewCircuitBreaker(s.BreakerThreshold, cooldown))
		b.Driver = b.Breaker
	}
	if s.Retries > 0 {
		b.Driver = llm.NewRetryDriver(b.Driver, llm.RetryConfig{
			MaxAttempts: s.Retries + 1,
			BaseDelay:   configutil.Millis(s.RetryBackoffMS, 500*time.Millisecond),
		})
	}
	return b
}

func validateSettings(settings map[string]any, schema configutil.Schema) error {
	if err := configutil.ValidateSettings(settings, schema); err != nil {
		var se *configutil.SettingsError
		if errors.As(err, &se) {
			return fmt.Errorf("%s invalid: %w", settingsPath, se)
		}
		return err
	}
	return nil
}
