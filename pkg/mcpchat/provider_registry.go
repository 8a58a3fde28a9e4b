package mcpchat

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harunnryd/mcpchat/pkg/llm"
)

// LLMBinding is a built driver plus the request defaults it was configured with.
type LLMBinding struct {
	Driver    llm.Driver
	Model     string
	MaxTokens int
	// Breaker is set when the driver is wrapped in a circuit breaker.
	Breaker   *llm.CircuitBreakerDriver
}

type LLMFactory func(cfg Config) (LLMBinding, error)

type ProviderRegistry struct {
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{llm: make(map[string]LLMFactory)}
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (LLMBinding, error) {
	fn := r.llm[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return LLMBinding{}, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}

// LLMProviders lists registered provider names in sorted order.
func (r *ProviderRegistry) LLMProviders() []string {
	out := make([]string, 0, len(r.llm))
	for name := range r.llm {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
