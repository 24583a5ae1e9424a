// Package plugin is the provider registry. Provider packages register their
// factories from init(); the CLI picks an implementation per kind by name
// from configuration, so swapping OpenAI for ElevenLabs or a fake is a
// config change.
package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Provider kinds.
const (
	KindLLM = "llm" // llm.LLM
	KindTTS = "tts" // tts.TTS
	KindSTT = "stt" // stt.Recognizer
)

// Factory creates a new provider instance from configuration.
// The returned value should be cast to the interface of its kind.
type Factory func(cfg map[string]any) (any, error)

// Plugin represents a registered plugin with its metadata.
type Plugin struct {
	Kind        string         // KindLLM, KindTTS or KindSTT
	Name        string         // Plugin name (e.g., "openai", "elevenlabs")
	Factory     Factory        // Factory function to create instances
	Description string         // Human-readable description
	Version     string         // Plugin version
	Config      map[string]any // Accepted configuration keys and their defaults
}

// Registry manages plugin registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]*Plugin // [kind][name] -> Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]map[string]*Plugin)}
}

var globalRegistry = NewRegistry()

// Register adds a plugin to the global registry.
// Panics if a plugin with the same kind and name is already registered.
func Register(kind, name string, factory Factory) {
	globalRegistry.Register(kind, name, factory)
}

// RegisterWithMetadata adds a plugin with additional metadata to the global registry.
// Panics if a plugin with the same kind and name is already registered.
func RegisterWithMetadata(plugin *Plugin) {
	globalRegistry.RegisterWithMetadata(plugin)
}

// Get retrieves a plugin factory from the global registry.
func Get(kind, name string) (Factory, bool) {
	return globalRegistry.Get(kind, name)
}

// List returns all registered plugins of a specific kind.
// If kind is empty, returns all plugins.
func List(kind string) []*Plugin {
	return globalRegistry.List(kind)
}

// ListKinds returns all registered plugin kinds.
func ListKinds() []string {
	return globalRegistry.ListKinds()
}

// Create instantiates the named provider from the global registry and
// checks that it implements T.
func Create[T any](kind, name string, cfg map[string]any) (T, error) {
	return CreateFrom[T](globalRegistry, kind, name, cfg)
}

// CreateFrom is Create against a specific registry.
func CreateFrom[T any](r *Registry, kind, name string, cfg map[string]any) (T, error) {
	var zero T
	factory, ok := r.Get(kind, name)
	if !ok {
		return zero, fmt.Errorf("no %s provider named %q (available: %v)", kind, name, r.names(kind))
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	instance, err := factory(cfg)
	if err != nil {
		return zero, fmt.Errorf("failed to create %s provider %q: %w", kind, name, err)
	}
	provider, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%s provider %q has unexpected type %T", kind, name, instance)
	}
	return provider, nil
}

// Register adds a plugin to this registry instance.
func (r *Registry) Register(kind, name string, factory Factory) {
	r.RegisterWithMetadata(&Plugin{
		Kind:    kind,
		Name:    name,
		Factory: factory,
	})
}

// RegisterWithMetadata adds a plugin with metadata to this registry instance.
func (r *Registry) RegisterWithMetadata(plugin *Plugin) {
	if plugin.Kind == "" {
		panic("plugin kind cannot be empty")
	}
	if plugin.Name == "" {
		panic("plugin name cannot be empty")
	}
	if plugin.Factory == nil {
		panic("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins[plugin.Kind] == nil {
		r.plugins[plugin.Kind] = make(map[string]*Plugin)
	}
	if existing, exists := r.plugins[plugin.Kind][plugin.Name]; exists {
		panic(fmt.Sprintf("plugin %s/%s already registered (existing version: %s, new version: %s)",
			plugin.Kind, plugin.Name, existing.Version, plugin.Version))
	}
	r.plugins[plugin.Kind][plugin.Name] = plugin
}

// Get retrieves a plugin factory from this registry instance.
func (r *Registry) Get(kind, name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugin, exists := r.plugins[kind][name]
	if !exists {
		return nil, false
	}
	return plugin.Factory, true
}

// List returns all registered plugins of a specific kind.
// If kind is empty, returns all plugins sorted by kind then name.
func (r *Registry) List(kind string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var plugins []*Plugin
	for k, kindMap := range r.plugins {
		if kind != "" && k != kind {
			continue
		}
		for _, plugin := range kindMap {
			plugins = append(plugins, plugin)
		}
	}

	sort.Slice(plugins, func(i, j int) bool {
		if plugins[i].Kind != plugins[j].Kind {
			return plugins[i].Kind < plugins[j].Kind
		}
		return plugins[i].Name < plugins[j].Name
	})
	return plugins
}

// ListKinds returns all registered plugin kinds in sorted order.
func (r *Registry) ListKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.plugins))
	for kind := range r.plugins {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func (r *Registry) names(kind string) []string {
	var names []string
	for _, p := range r.List(kind) {
		names = append(names, p.Name)
	}
	return names
}

// Clear removes all plugins from this registry instance.
// This is primarily useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]map[string]*Plugin)
}
