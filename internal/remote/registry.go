package remote

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds a backend from its configuration.
// Implementations register themselves with Register from init().
type Constructor func(cfg Config) (Backend, error)

var (
	registry   = make(map[string]Constructor)
	registryMu sync.RWMutex
)

// Register registers a backend driver. Called from init() in
// implementation packages:
//
//	func init() {
//	    remote.Register("rest", New)
//	}
func Register(name string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("remote: Register constructor is nil for driver %s", name))
	}
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("remote: Register called twice for driver %s", name))
	}

	registry[name] = constructor
}

// Open builds the backend named by cfg.Driver.
func Open(cfg Config) (Backend, error) {
	registryMu.RLock()
	constructor := registry[cfg.Driver]
	registryMu.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("no registered backend driver %q (available: %v)", cfg.Driver, Drivers())
	}

	backend, err := constructor(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Driver, err)
	}
	return backend, nil
}

// IsRegistered reports whether a driver of that name exists.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, exists := registry[name]
	return exists
}

// Drivers returns the registered driver names, sorted for stable output.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
