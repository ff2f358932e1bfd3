package notifier

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a provider from its flat config map ("webhook_url",
// "channel", ...). Validation of the settings belongs to the factory.
type Factory func(config map[string]string) (Notifier, error)

var registry = struct {
	sync.RWMutex
	factories map[string]Factory
}{factories: make(map[string]Factory)}

// Register makes a provider factory available under name. Adapter
// packages call this from init(), so a duplicate name is a programming
// error and panics.
func Register(name string, factory Factory) {
	registry.Lock()
	defer registry.Unlock()

	if _, taken := registry.factories[name]; taken {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", name))
	}
	registry.factories[name] = factory
}

// New builds the named provider from config.
func New(name string, config map[string]string) (Notifier, error) {
	registry.RLock()
	factory, ok := registry.factories[name]
	registry.RUnlock()

	if !ok {
		return nil, fmt.Errorf("notifier: unknown provider %q", name)
	}
	return factory(config)
}

// Available returns the registered provider names, sorted.
func Available() []string {
	registry.RLock()
	defer registry.RUnlock()

	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
