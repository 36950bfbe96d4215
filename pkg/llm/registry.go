// Package llm resolves configured language model providers for distillation
// membranes.
package llm

import (
	"fmt"
	"sort"
	"strings"

	"garden-of-memory/pkg/garden"
)

// Registry resolves configured LLM providers by stable profile key.
//
// The provider map is copied on construction and remains immutable afterward,
// so Resolve is concurrency-safe for parallel membrane workers.
type Registry struct {
	providers map[string]garden.LLMProvider
}

// NewRegistry constructs one immutable LLM provider registry.
func NewRegistry(providers map[string]garden.LLMProvider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("new llm provider registry: empty providers")
	}

	cloned := make(map[string]garden.LLMProvider, len(providers))
	for key, provider := range providers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return nil, fmt.Errorf("new llm provider registry: empty provider key")
		}
		if provider == nil {
			return nil, fmt.Errorf("new llm provider registry: provider %s is nil", trimmedKey)
		}
		if _, exists := cloned[trimmedKey]; exists {
			return nil, fmt.Errorf("new llm provider registry: duplicate provider key %s", trimmedKey)
		}
		cloned[trimmedKey] = provider
	}

	return &Registry{providers: cloned}, nil
}

// Resolve returns one configured provider by key.
func (r *Registry) Resolve(provider string) (garden.LLMProvider, error) {
	if r == nil {
		return nil, fmt.Errorf("resolve llm provider: nil registry")
	}

	trimmed := strings.TrimSpace(provider)
	if trimmed == "" {
		return nil, fmt.Errorf("resolve llm provider: empty provider key")
	}

	resolved, exists := r.providers[trimmed]
	if !exists {
		return nil, fmt.Errorf("resolve llm provider: provider %s is not configured", trimmed)
	}

	return resolved, nil
}

// Keys returns the configured provider keys in sorted order.
func (r *Registry) Keys() []string {
	if r == nil {
		return nil
	}

	keys := make([]string, 0, len(r.providers))
	for key := range r.providers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return keys
}

var _ garden.LLMProviderRegistry = (*Registry)(nil)
