// Package serviceregistry is the narrow contract external services
// register against so rules can invoke them via call_service actions and
// lookups (spec §4.4 "call_service", §4.5 "Lookup Resolver").
package serviceregistry

import (
	"context"
	"fmt"
	"sync"

	"github.com/ruleforge/engine/internal/engerrors"
)

// Service is a named external collaborator callable by method name.
type Service interface {
	// Call invokes method with args and returns its result. Implementations
	// own their own argument validation and error wrapping.
	Call(ctx context.Context, method string, args []interface{}) (interface{}, error)
}

// Registry is a concurrency-safe name -> Service map.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{services: make(map[string]Service)}
}

// Register adds or replaces the named service.
func (r *Registry) Register(name string, svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[name] = svc
}

// Unregister removes the named service, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, name)
}

// Invoke looks up name and calls method with args, returning
// engerrors.NotFound("service", name) if it isn't registered.
func (r *Registry) Invoke(ctx context.Context, name, method string, args []interface{}) (interface{}, error) {
	r.mu.RLock()
	svc, ok := r.services[name]
	r.mu.RUnlock()
	if !ok {
		return nil, engerrors.NotFound("service", name).
			WithDetails("message", fmt.Sprintf("Service not found: %s", name))
	}
	return svc.Call(ctx, method, args)
}
