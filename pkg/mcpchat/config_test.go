package mcpchat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harunnryd/mcpchat/pkg/chat"
	"github.com/harunnryd/mcpchat/pkg/errorsx"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaultsAndExpansion(t *testing.T) {
	t.Setenv("MCPCHAT_TEST_KEY", "sk-test")
	t.Setenv("MCPCHAT_TEST_SPEC", "python weather.py")
	path := writeConfig(t, t.TempDir(), `
vendors:
  llm:
    provider: anthropic
    settings:
      api_key: ${MCPCHAT_TEST_KEY}
      model: claude-test
mcp:
  servers:
    - name: weather
      spec: ${MCPCHAT_TEST_SPEC}
      auto_connect: true
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" || cfg.Server.WSPath != "/ws" || cfg.Server.AllowAnyOrigin {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.MCP.AllowClientSpecs || len(cfg.MCP.AllowedExecutables) != 0 {
		t.Fatalf("expected client specs locked down by default: %+v", cfg.MCP)
	}
	if cfg.Chat.Greeting != chat.DefaultGreeting || !cfg.Chat.SanitizeInput {
		t.Fatalf("unexpected chat defaults: %+v", cfg.Chat)
	}
	if got := cfg.Vendors.LLM.Settings["api_key"]; got != "sk-test" {
		t.Fatalf("expected expanded api key, got %v", got)
	}
	if len(cfg.MCP.Servers) != 1 || cfg.MCP.Servers[0].Spec != "python weather.py" {
		t.Fatalf("expected expanded server spec, got %+v", cfg.MCP.Servers)
	}
	presets := cfg.MCP.Presets()
	if len(presets) != 1 || presets[0].Name != "weather" || !presets[0].AutoConnect {
		t.Fatalf("unexpected presets: %+v", presets)
	}
}

func TestLoadConfigReadsDotEnvNextToConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("MCPCHAT_DOTENV_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("MCPCHAT_DOTENV_KEY") })
	path := writeConfig(t, dir, `
vendors:
  llm:
    provider: openai
    settings:
      api_key: ${MCPCHAT_DOTENV_KEY}
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Vendors.LLM.Settings["api_key"]; got != "from-dotenv" {
		t.Fatalf("expected key from .env, got %v", got)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonConfig) {
		t.Fatalf("expected config reason, got %v", err)
	}
}

func TestValidateRejectsDuplicateServers(t *testing.T) {
	cfg := Config{
		Server:  ServerConfig{Addr: ":0", WSPath: "/ws"},
		Vendors: VendorsConfig{LLM: VendorConfig{Provider: "mock"}},
		MCP: MCPConfig{Servers: []MCPServerConfig{
			{Name: "weather", Spec: "a"},
			{Name: "weather", Spec: "b"},
		}},
	}
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicated") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := Config{
		Server:  ServerConfig{Addr: ":0", WSPath: "/ws"},
		Vendors: VendorsConfig{LLM: VendorConfig{Provider: "mock"}},
	}
	cases := map[string]func(c *Config){
		"provider":   func(c *Config) { c.Vendors.LLM.Provider = " " },
		"ws_path":    func(c *Config) { c.Server.WSPath = "ws" },
		"tool_turns": func(c *Config) { c.Chat.MaxToolTurns = -1 },
		"timeout":    func(c *Config) { c.Tools.TimeoutMS = -5 },
		"spec":       func(c *Config) { c.MCP.Servers = []MCPServerConfig{{Name: "x"}} },
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}
}
