// Package tools provides the ToolRegistry: the set of Tool implementations
// an Agent can offer a provider, looked up by name during execution.
package tools

import (
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/laceai/lace/pkg/types/tooltypes"
)

// GenerateSchema reflects T into a JSON schema document, for a Tool's
// GenerateSchema implementation to call with its own input struct.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// Registry maps tool names to their Tool implementation. A Registry is
// safe for concurrent registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tooltypes.Tool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tooltypes.Tool)}
}

// Register adds tool under its own Name(), overwriting any prior
// registration with the same name.
func (r *Registry) Register(tool tooltypes.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (tooltypes.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Validate reports an error naming the first tool in names that isn't
// registered.
func (r *Registry) Validate(names []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range names {
		if _, ok := r.tools[n]; !ok {
			return errors.Errorf("unknown tool: %s", n)
		}
	}
	return nil
}

// Descriptors returns the Descriptor for every tool in names, in order,
// skipping names that aren't registered.
func (r *Registry) Descriptors(names []string) []tooltypes.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]tooltypes.Descriptor, 0, len(names))
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			continue
		}
		out = append(out, tooltypes.Descriptor{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.GenerateSchema(),
			Annotations: t.Annotations(),
			Timeout:     t.Timeout(),
		})
	}
	return out
}

// Names returns every registered tool name, unordered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	return out
}
