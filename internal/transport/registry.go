package transport

import (
	"fmt"
	"sort"
	"sync"
)

// Backend builds receivers and senders for one kind of bus.
type Backend struct {
	NewReceiver func(iface string, opts Options) Receiver
	NewSender   func(iface string, opts Options) Sender
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Backend)
)

// Register makes a backend available under name. It is meant to be called
// from the init function of the backend package.
func Register(name string, b Backend) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if b.NewReceiver == nil || b.NewSender == nil {
		panic("transport: Register called with incomplete backend " + name)
	}
	if _, dup := registry[name]; dup {
		panic("transport: Register called twice for backend " + name)
	}
	registry[name] = b
}

// Lookup returns the backend registered under name.
func Lookup(name string) (Backend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	b, ok := registry[name]
	if !ok {
		return Backend{}, fmt.Errorf("unsupported can backend %q (available: %v)", name, backendsLocked())
	}
	return b, nil
}

// Backends lists the registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return backendsLocked()
}

func backendsLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
