package tools

import (
	"fmt"
	"sort"
	"sync"

	"anima/internal/logging"
)

// Registration pairs a capability with its registry identity.
type Registration struct {
	// Name is the unique identifier used by envelopes.
	Name string

	// Domain groups related capabilities for lookup and reporting.
	Domain string

	// Capability estimates and executes envelopes addressed to Name.
	Capability Capability
}

// Registry holds all registered capabilities. It is thread-safe and
// supports registration at runtime; the embedding process registers its
// tools at boot.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Registration

	// byDomain provides fast lookup by domain.
	byDomain map[string][]*Registration
}

// NewRegistry creates a new empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]*Registration),
		byDomain: make(map[string][]*Registration),
	}
}

// Register adds a capability under the given name and domain.
// Returns an error if the name is taken or the capability is nil.
func (r *Registry) Register(name, domain string, capability Capability) error {
	if name == "" {
		return ErrToolNameEmpty
	}
	if capability == nil {
		return fmt.Errorf("%w: %s", ErrNilCapability, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, name)
	}

	reg := &Registration{Name: name, Domain: domain, Capability: capability}
	r.tools[name] = reg
	r.byDomain[domain] = append(r.byDomain[domain], reg)

	logging.ToolsDebug("Registered tool: %s (domain=%s)", name, domain)
	return nil
}

// MustRegister registers a capability and panics on error.
// Use this for static registration at boot.
func (r *Registry) MustRegister(name, domain string, capability Capability) {
	if err := r.Register(name, domain, capability); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", name, err))
	}
}

// Get returns a registration by tool name, or nil if not found.
func (r *Registry) Get(name string) *Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// ByDomain returns all registrations in a domain, sorted by name.
func (r *Registry) ByDomain(domain string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	regs := make([]*Registration, len(r.byDomain[domain]))
	copy(regs, r.byDomain[domain])

	sort.Slice(regs, func(i, j int) bool {
		return regs[i].Name < regs[j].Name
	})
	return regs
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
