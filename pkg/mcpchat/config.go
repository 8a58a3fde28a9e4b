package mcpchat

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/harunnryd/mcpchat/pkg/chat"
	"github.com/harunnryd/mcpchat/pkg/configutil"
	"github.com/harunnryd/mcpchat/pkg/errorsx"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Chat          ChatConfig          `mapstructure:"chat"`
	MCP           MCPConfig           `mapstructure:"mcp"`
	Tools         ToolsConfig         `mapstructure:"tools"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type ServerConfig struct {
	Addr                string   `mapstructure:"addr"`
	WSPath              string   `mapstructure:"ws_path"`
	AllowAnyOrigin      bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins      []string `mapstructure:"allowed_origins"`
	CORSOrigins         []string `mapstructure:"cors_origins"`
	ReadHeaderTimeoutMS int      `mapstructure:"read_header_timeout_ms"`
	DrainTimeoutMS      int      `mapstructure:"drain_timeout_ms"`
	Debug               bool     `mapstructure:"debug"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	LLM VendorConfig `mapstructure:"llm"`
}

type ChatConfig struct {
	Greeting      string `mapstructure:"greeting"`
	SystemPrompt  string `mapstructure:"system_prompt"`
	MaxToolTurns  int    `mapstructure:"max_tool_turns"`
	SanitizeInput bool   `mapstructure:"sanitize_input"`
}

type MCPServerConfig struct {
	Name        string `mapstructure:"name"`
	Spec        string `mapstructure:"spec"`
	AutoConnect bool   `mapstructure:"auto_connect"`
}

type MCPConfig struct {
	Servers []MCPServerConfig `mapstructure:"servers"`
	// AllowClientSpecs lets websocket clients dial arbitrary specs instead of presets only.
	AllowClientSpecs   bool     `mapstructure:"allow_client_specs"`
	AllowedExecutables []string `mapstructure:"allowed_executables"`
}

type ToolsConfig struct {
	TimeoutMS      int `mapstructure:"timeout_ms"`
	Retries        int `mapstructure:"retries"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`
}

type ObservabilityConfig struct {
	MetricsPath string `mapstructure:"metrics_path"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// Presets converts the configured MCP servers for the chat lifecycle.
func (c MCPConfig) Presets() []chat.ServerPreset {
	out := make([]chat.ServerPreset, 0, len(c.Servers))
	for _, s := range c.Servers {
		out = append(out, chat.ServerPreset{Name: s.Name, Spec: s.Spec, AutoConnect: s.AutoConnect})
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.allow_any_origin", false)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("mcp.allow_client_specs", false)
	v.SetDefault("mcp.allowed_executables", []string{})
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.read_header_timeout_ms", 5000)
	v.SetDefault("server.drain_timeout_ms", 20000)
	v.SetDefault("server.debug", false)
	v.SetDefault("vendors.llm.provider", "anthropic")
	v.SetDefault("chat.greeting", chat.DefaultGreeting)
	v.SetDefault("chat.system_prompt", "")
	v.SetDefault("chat.max_tool_turns", 0)
	v.SetDefault("chat.sanitize_input", true)
	v.SetDefault("tools.timeout_ms", 0)
	v.SetDefault("tools.retries", 0)
	v.SetDefault("tools.retry_backoff_ms", 200)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("privacy.redact_pii", true)
}

// LoadConfig reads a YAML config file. A .env file in the working directory
// or next to the config is loaded first so ${VAR} references resolve.
func LoadConfig(path string) (Config, error) {
	if err := loadDotEnv(".env", filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("load .env: %w", err), errorsx.ReasonConfig)
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("read config: %w", err), errorsx.ReasonConfig)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("unmarshal: %w", err), errorsx.ReasonConfig)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("validate config: %w", err), errorsx.ReasonConfig)
	}
	return cfg, nil
}

func loadDotEnv(paths ...string) error {
	seen := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		// Existing environment variables win over the file.
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WSPath)
	}
	if c.Chat.MaxToolTurns < 0 {
		return fmt.Errorf("chat.max_tool_turns must be >= 0, got %d", c.Chat.MaxToolTurns)
	}
	if c.Tools.TimeoutMS < 0 || c.Tools.Retries < 0 || c.Tools.RetryBackoffMS < 0 {
		return fmt.Errorf("tools.timeout_ms, tools.retries and tools.retry_backoff_ms must be >= 0")
	}
	seen := map[string]bool{}
	for i, s := range c.MCP.Servers {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("mcp.servers[%d].name is required", i)
		}
		if strings.TrimSpace(s.Spec) == "" {
			return fmt.Errorf("mcp.servers[%d].spec is required", i)
		}
		if seen[name] {
			return fmt.Errorf("mcp.servers[%d].name %q is duplicated", i, name)
		}
		seen[name] = true
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.LLM.Settings = configutil.ExpandSettings(cfg.Vendors.LLM.Settings)
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
