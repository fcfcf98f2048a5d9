package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Priority constants for module registration.
// Higher priority values override lower priority modules with the same name.
const (
	// PriorityDefault is the default priority for modules.
	PriorityDefault = 0

	// PriorityOverride lets a private build replace a bundled module of the
	// same name.
	PriorityOverride = 100
)

// DefaultOrder is the load order of modules that do not set one.
const DefaultOrder = 50

// ModuleInfo describes a compiled-in plugin module.
type ModuleInfo struct {
	// Name is the unique module name, e.g. "homebridge-dummy".
	Name string

	// Description is a human-readable description of the module.
	Description string

	// Version is reported in logs and by the management API.
	Version string

	// Priority determines which module wins when several register with the
	// same name. Higher priority wins.
	Priority int

	// Initializer registers the module's constructors.
	Initializer Initializer

	// Order specifies the load order. Lower values load first.
	Order int
}

// Registry holds the plugin modules linked into the binary. Plugin discovery
// lists them ahead of plugins found in the search paths.
//
// Two modules may claim the same plugin name, for example a private build of
// a bundled plugin. The higher priority one is kept and the other is recorded
// as shadowed. Registration runs from init functions before any logger
// exists, so discovery reports shadowed modules instead of the registry.
type Registry struct {
	mu       sync.RWMutex
	modules  map[string]ModuleInfo
	order    []string
	shadowed []ModuleInfo
}

// NewRegistry creates a new module registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]ModuleInfo),
		order:   make([]string, 0),
	}
}

// Register adds a module to the registry. Against a module of the same name
// the higher priority wins; on equal priority the later registration wins.
func (r *Registry) Register(info ModuleInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.Name == "" {
		return fmt.Errorf("module name cannot be empty")
	}

	if info.Initializer == nil {
		return fmt.Errorf("module %s: initializer cannot be nil", info.Name)
	}

	if info.Order == 0 {
		info.Order = DefaultOrder
	}

	existing, exists := r.modules[info.Name]
	if exists && info.Priority < existing.Priority {
		r.shadowed = append(r.shadowed, info)
		return nil
	}
	if exists {
		r.shadowed = append(r.shadowed, existing)
	}

	r.modules[info.Name] = info

	if !exists {
		r.order = append(r.order, info.Name)
	}

	return nil
}

// Get returns the module info for a given name, or nil if not found.
func (r *Registry) Get(name string) *ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.modules[name]
	if !ok {
		return nil
	}
	return &info
}

// List returns all registered modules sorted by their load order.
func (r *Registry) List() []ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ModuleInfo, 0, len(r.modules))
	for _, name := range r.order {
		result = append(result, r.modules[name])
	}

	// Sort by order (lower first), then by name for stability
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Name < result[j].Name
	})

	return result
}

// Shadowed returns the modules that lost to another module of the same name,
// in the order they lost.
func (r *Registry) Shadowed() []ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModuleInfo, len(r.shadowed))
	copy(out, r.shadowed)
	return out
}

// Names returns the names of all registered modules in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// Clear removes all registered modules. Useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.modules = make(map[string]ModuleInfo)
	r.order = make([]string, 0)
	r.shadowed = nil
}

// Global registry instance
var globalRegistry = NewRegistry()

// Register adds a module to the global registry.
// This is typically called from init() functions in plugin packages.
func Register(info ModuleInfo) error {
	return globalRegistry.Register(info)
}

// Get returns module info from the global registry.
func Get(name string) *ModuleInfo {
	return globalRegistry.Get(name)
}

// List returns all modules from the global registry.
func List() []ModuleInfo {
	return globalRegistry.List()
}

// Names returns all module names from the global registry.
func Names() []string {
	return globalRegistry.Names()
}

// Global returns the global registry.
func Global() *Registry {
	return globalRegistry
}

// ClearGlobal clears the global registry. Useful for testing.
func ClearGlobal() {
	globalRegistry.Clear()
}
