package adapters

import (
	"strings"

	"github.com/hireloop/hireloop/internal/payment/domain"
)

// Registry maps provider names to their webhook adapters. Adapters are
// constructed once at startup from config; lookups are read-only after that.
type Registry struct {
	adapters map[string]domain.WebhookAdapter
}

func NewRegistry(adapters ...domain.WebhookAdapter) *Registry {
	registry := &Registry{adapters: map[string]domain.WebhookAdapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(adapter.Provider()))
		if provider == "" {
			continue
		}
		registry.adapters[provider] = adapter
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.adapters[provider]
	return ok
}

func (r *Registry) Adapter(provider string) (domain.WebhookAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}
