package store

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor creates a backend rooted at the given directory.
// Implementations register themselves from init() in their package.
type Constructor func(dir string, cfg Config) (Local, error)

var (
	registry      = make(map[string]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a backend constructor under a kind name.
// Called from init() in backend packages (file, badgerstore).
func Register(kind string, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("store: Register constructor is nil for kind %q", kind))
	}
	if _, exists := registry[kind]; exists {
		panic(fmt.Sprintf("store: Register called twice for kind %q", kind))
	}
	registry[kind] = constructor
}

// Open creates a backend of the given kind rooted at dir.
func Open(kind, dir string, cfg Config) (Local, error) {
	registryMutex.RLock()
	constructor := registry[kind]
	registryMutex.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, kind, RegisteredKinds())
	}
	return constructor(dir, cfg)
}

// RegisteredKinds returns the registered backend names, sorted.
func RegisteredKinds() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	kinds := make([]string, 0, len(registry))
	for kind := range registry {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
