package backend

import (
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/ethos/internal/ir"
)

// Registry maps implementation identifiers to factories. It is written
// during initialization and read-only after Seal; lookups are safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[ir.Implementation]Factory
	sealed    bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[ir.Implementation]Factory)}
}

// Register adds a factory. It fails once the registry is sealed, for
// malformed identifiers and for duplicates.
func (r *Registry) Register(impl ir.Implementation, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %s: %w", impl, ErrRegistrySealed)
	}
	if !impl.Valid() {
		return fmt.Errorf("register %q: malformed implementation identifier", impl)
	}
	if f == nil {
		return fmt.Errorf("register %s: nil factory", impl)
	}
	if _, ok := r.factories[impl]; ok {
		return fmt.Errorf("register %s: %w", impl, ErrDuplicateImplementation)
	}
	r.factories[impl] = f
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup constructs the backend registered for impl.
func (r *Registry) Lookup(impl ir.Implementation) (Backend, error) {
	r.mu.RLock()
	f, ok := r.factories[impl]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownImplementationError{Implementation: impl, Known: r.Implementations()}
	}
	return f(), nil
}

// Implementations returns the registered identifiers, sorted.
func (r *Registry) Implementations() []ir.Implementation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ir.Implementation, 0, len(r.factories))
	for impl := range r.factories {
		out = append(out, impl)
	}
	slices.Sort(out)
	return out
}
