package configutil

import (
	"errors"
	"testing"
	"time"
)

func TestValidateSettingsReportsMissingAndUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{
		"API-Key": " ",
		"colour":  "blue",
	}, Schema{Required: []string{"api_key", "model"}, Optional: []string{"base_url"}})
	var se *SettingsError
	if !errors.As(err, &se) {
		t.Fatalf("expected SettingsError, got %v", err)
	}
	if len(se.Missing) != 2 || se.Missing[0] != "api_key" || se.Missing[1] != "model" {
		t.Fatalf("unexpected missing keys %v", se.Missing)
	}
	if len(se.Unknown) != 1 || se.Unknown[0] != "colour" {
		t.Fatalf("unexpected unknown keys %v", se.Unknown)
	}
	if got := err.Error(); got != "missing: api_key, model; unknown: colour" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestValidateSettingsAcceptsNormalizedKeys(t *testing.T) {
	err := ValidateSettings(map[string]any{"ApiKey": "k", "max-tokens": 10}, Schema{
		Required: []string{"api_key"},
		Optional: []string{"max_tokens"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeSettingsWeakTypes(t *testing.T) {
	var out struct {
		Model     string `mapstructure:"model"`
		MaxTokens int    `mapstructure:"max_tokens"`
		Breaker   *bool  `mapstructure:"use_circuit_breaker"`
	}
	err := DecodeSettings(map[string]any{
		"Model":               "claude",
		"max-tokens":          "2048",
		"use_circuit_breaker": "false",
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Model != "claude" || out.MaxTokens != 2048 {
		t.Fatalf("unexpected decode %+v", out)
	}
	if BoolValue(out.Breaker, true) {
		t.Fatalf("expected breaker disabled")
	}
}

func TestExpandSettingsNested(t *testing.T) {
	t.Setenv("MCPCHAT_TEST_KEY", "secret")
	in := map[string]any{
		"api_key": "${MCPCHAT_TEST_KEY}",
		"headers": map[any]any{"x-token": "$MCPCHAT_TEST_KEY"},
		"list":    []any{"${MCPCHAT_TEST_KEY}", 3},
	}
	out := ExpandSettings(in)
	if out["api_key"] != "secret" {
		t.Fatalf("expected expanded api_key, got %v", out["api_key"])
	}
	headers, ok := out["headers"].(map[string]any)
	if !ok || headers["x-token"] != "secret" {
		t.Fatalf("expected expanded nested map, got %#v", out["headers"])
	}
	list := out["list"].([]any)
	if list[0] != "secret" || list[1] != 3 {
		t.Fatalf("unexpected list %v", list)
	}
}

func TestMillis(t *testing.T) {
	if Millis(0, time.Second) != time.Second {
		t.Fatalf("expected fallback")
	}
	if Millis(250, time.Second) != 250*time.Millisecond {
		t.Fatalf("expected 250ms")
	}
}
