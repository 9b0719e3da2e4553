// Package tools manages tool registration, execution, and result
// classification.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Definition is the tool metadata exposed to the model.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Handler executes a tool. Arguments arrive as the raw payload the model
// produced; the handler owns parsing. The context carries the per-call
// timeout.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

type entry struct {
	def     Definition
	handler Handler
}

// Registry holds the tools available to the engine.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]entry{}}
}

// Register adds a tool. The definition name must match and be unique.
func (r *Registry) Register(def Definition, handler Handler) error {
	if def.Name == "" || handler == nil {
		return fmt.Errorf("tool registration requires a name and handler")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[def.Name]; ok {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = entry{def: def, handler: handler}
	return nil
}

// Execute runs a tool by name. Unknown tools return an error; the caller
// classifies it like any other failure.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("tool %q not found", name)
	}
	return e.handler(ctx, args)
}

// Has returns true if a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Definitions returns all registered definitions sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
