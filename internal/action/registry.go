package action

import (
	"context"
	"fmt"
	"sort"
)

// Adapter executes one action against one resource. When dryRun is true the
// adapter must not issue any mutating call; it reports what would have
// happened instead.
type Adapter interface {
	Execute(ctx context.Context, resourceID string, params Params, dryRun bool) AdapterResult
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(ctx context.Context, resourceID string, params Params, dryRun bool) AdapterResult

func (f AdapterFunc) Execute(ctx context.Context, resourceID string, params Params, dryRun bool) AdapterResult {
	return f(ctx, resourceID, params, dryRun)
}

type registryKey struct {
	resourceType ResourceType
	action       Action
}

// Registry maps (resource_type, action) pairs to adapters. Registration
// happens once at startup; lookups after that are read-only, so no locking is
// needed.
type Registry struct {
	adapters map[registryKey]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[registryKey]Adapter)}
}

// Register wires an adapter for a resource-type/action pair. Registering the
// same pair twice is a startup bug and panics.
func (r *Registry) Register(rt ResourceType, a Action, adapter Adapter) {
	key := registryKey{resourceType: rt, action: a}
	if _, exists := r.adapters[key]; exists {
		panic(fmt.Sprintf("adapter already registered for %s/%s", rt, a))
	}
	r.adapters[key] = adapter
}

// Resolve returns the adapter for a resource-type/action pair.
func (r *Registry) Resolve(rt ResourceType, a Action) (Adapter, bool) {
	adapter, ok := r.adapters[registryKey{resourceType: rt, action: a}]
	return adapter, ok
}

// Supported lists the registered pairs as "resource_type/action" strings,
// sorted, for diagnostics and validation error messages.
func (r *Registry) Supported() []string {
	pairs := make([]string, 0, len(r.adapters))
	for key := range r.adapters {
		pairs = append(pairs, fmt.Sprintf("%s/%s", key.resourceType, key.action))
	}
	sort.Strings(pairs)
	return pairs
}
