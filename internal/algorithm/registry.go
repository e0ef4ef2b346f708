package algorithm

import (
	"fmt"
	"strings"
)

// Registry maps algorithm names to embedding backends.
//
// The registry is populated once at startup and read-only afterwards, so
// lookups need no locking. This replaces runtime module loading with static
// dispatch: a name either has a backend or it does not.
type Registry struct {
	backends map[string]Extractor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Extractor)}
}

// Register binds a backend to an algorithm name. Names are lowercased; a
// later Register for the same name replaces the earlier one.
func (r *Registry) Register(name string, backend Extractor) error {
	name = strings.ToLower(name)
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidFormat)
	}
	if strings.Contains(name, "_") {
		return fmt.Errorf("%w: name %q must not contain underscore", ErrInvalidFormat, name)
	}
	if backend == nil {
		return fmt.Errorf("backend for %q cannot be nil", name)
	}
	r.backends[name] = backend
	return nil
}

// Resolve returns the backend registered under id.Name.
func (r *Registry) Resolve(id ID) (Extractor, error) {
	backend, ok := r.backends[id.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, id.Name)
	}
	return backend, nil
}

// Names returns the registered algorithm names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	return names
}
