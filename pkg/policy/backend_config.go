package policy

import (
	"context"
	"sync"
)

// ConfigBackend is the first link in the chain: an in-process policy
// map, typically loaded at startup and mutated by config reloads.
type ConfigBackend struct {
	mu       sync.RWMutex
	policies map[string]map[string]any
}

// NewConfigBackend creates a backend seeded with the given policies.
func NewConfigBackend(policies map[string]map[string]any) *ConfigBackend {
	if policies == nil {
		policies = make(map[string]map[string]any)
	}
	return &ConfigBackend{policies: policies}
}

// Name implements Backend.
func (b *ConfigBackend) Name() string { return "config" }

// Get implements Backend.
func (b *ConfigBackend) Get(_ context.Context, name string, _ map[string]any) (map[string]any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.policies[name]
	if !ok {
		return nil, nil
	}
	cp := make(map[string]any, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp, nil
}

// Set installs or replaces one named policy.
func (b *ConfigBackend) Set(name string, policy map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.policies[name] = policy
}

// Delete removes one named policy.
func (b *ConfigBackend) Delete(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.policies, name)
}
