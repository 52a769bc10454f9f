// Package actions holds the action functions steps invoke and the lookup
// table they are dispatched through.
package actions

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

const (
	FuncEcho     = "core.echo"
	FuncFail     = "core.fail"
	FuncRequest  = "http.request"
	FuncSession  = "http.session"
	FuncTemplate = "template.render"
)

var ErrUnknownFunction = errors.New("unknown action function")

// Registry maps namespaced function names to actions. It is filled at
// process start and only read afterwards.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// DefaultRegistry returns a registry with the built-in actions.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(FuncEcho, Echo)
	r.MustRegister(FuncFail, Failing)
	r.MustRegister(FuncRequest, Request)
	r.MustRegister(FuncSession, Session)
	r.MustRegister(FuncTemplate, RenderTemplate)
	return r
}

// Register adds fn under name. Names must be namespaced ("ns.name") and
// unique.
func (r *Registry) Register(name string, fn Func) error {
	ns, short, ok := strings.Cut(name, ".")
	if !ok || ns == "" || short == "" {
		return fmt.Errorf("action name %q must be namespaced like \"ns.name\"", name)
	}
	if fn == nil {
		return fmt.Errorf("action %q has no implementation", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		return fmt.Errorf("action %q already registered", name)
	}
	r.funcs[name] = fn
	return nil
}

// MustRegister is Register that panics, for process-start wiring.
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the action registered under name.
func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return fn, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// Names lists the registered functions in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
