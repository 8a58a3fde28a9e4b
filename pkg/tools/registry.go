package tools

import (
	"sync"

	"github.com/harunnryd/mcpchat/pkg/llm"
)

// Registry maps provider names to the tools they advertise. Providers keep
// the position of their first registration, so flattening is stable across
// reconnects.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string][]llm.Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string][]llm.Tool)}
}

// Register replaces the tool list of provider.
func (r *Registry) Register(provider string, tools []llm.Tool) {
	cp := make([]llm.Tool, len(tools))
	copy(cp, tools)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[provider]; !ok {
		r.order = append(r.order, provider)
	}
	r.tools[provider] = cp
}

// Unregister removes provider. Unknown names are ignored.
func (r *Registry) Unregister(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[provider]; !ok {
		return
	}
	delete(r.tools, provider)
	for i, name := range r.order {
		if name == provider {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Flatten returns every tool in provider order, then per-provider order.
// Duplicate names across providers are kept.
func (r *Registry) Flatten() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []llm.Tool
	for _, provider := range r.order {
		out = append(out, r.tools[provider]...)
	}
	return out
}

// Resolve returns the first provider, in registration order, that lists toolName.
func (r *Registry) Resolve(toolName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, provider := range r.order {
		for _, t := range r.tools[provider] {
			if t.Name == toolName {
				return provider, true
			}
		}
	}
	return "", false
}

func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Tools(provider string) []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.tools[provider]
	out := make([]llm.Tool, len(list))
	copy(out, list)
	return out
}

// Len counts tools across all providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, list := range r.tools {
		n += len(list)
	}
	return n
}
