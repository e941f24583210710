package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Handler does the work of one filter run.
type Handler func(ctx context.Context, in *Input) error

// Module is the interface that all core modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the runner handlers of a single application instance.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Handler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{runners: make(map[string]Handler)}
}

// RegisterRunner registers the handler for a runner name. Registering a name
// twice is a programming error and panics.
func (r *Registry) RegisterRunner(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runners[name]; exists {
		panic(fmt.Sprintf("runner handler with name '%s' already registered", name))
	}
	if h == nil {
		panic(fmt.Sprintf("runner handler '%s' is nil", name))
	}
	slog.Debug("Registering runner handler.", "name", name)
	r.runners[name] = h
}

// Runner looks up a handler by name.
func (r *Registry) Runner(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.runners[name]
	return h, ok
}

// Names returns the registered runner names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.runners))
	for name := range r.runners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every runner in required has a handler. The keys of
// required name who needs the runner and are only used in the error.
func (r *Registry) Validate(required map[string]string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owners := make([]string, 0, len(required))
	for owner := range required {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	for _, owner := range owners {
		runner := required[owner]
		if _, ok := r.runners[runner]; !ok {
			return fmt.Errorf("prototype '%s' uses runner '%s', which has no registered handler", owner, runner)
		}
	}
	return nil
}

// RegisterAll registers every module.
func (r *Registry) RegisterAll(modules ...Module) {
	for _, m := range modules {
		m.Register(r)
	}
}
