package extension

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/correomqtt/pluginhost/api"
)

// Handle is one registered extension together with its owner.
type Handle struct {
	PluginID   string
	ID         string
	Capability api.Capability
	Extension  interface{}
}

func (h Handle) String() string {
	if h.ID == "" {
		return fmt.Sprintf("%s/%s", h.PluginID, h.Capability)
	}
	return fmt.Sprintf("%s:%s/%s", h.PluginID, h.ID, h.Capability)
}

// Registry maps (capability, plugin) to the extensions the plugin registered,
// in registration order
type Registry struct {
	extensions map[api.Capability]map[string][]Handle
	order      []string
	mutex      sync.RWMutex
	logger     api.Logger
	generation atomic.Uint64
}

// NewRegistry creates a new extension registry
func NewRegistry(logger api.Logger) *Registry {
	return &Registry{
		extensions: make(map[api.Capability]map[string][]Handle),
		logger:     logger,
	}
}

// Register registers an extension offered by a plugin
func (r *Registry) Register(pluginID string, definition api.ExtensionDefinition) error {
	if pluginID == "" {
		return fmt.Errorf("plugin id cannot be empty")
	}
	if !definition.Capability.Valid() {
		return fmt.Errorf("unknown capability %q", definition.Capability)
	}
	if definition.Extension == nil {
		return fmt.Errorf("extension for %s cannot be nil", definition.Capability)
	}
	if !definition.Capability.Accepts(definition.Extension) {
		return fmt.Errorf("extension %T does not implement %s", definition.Extension, definition.Capability)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	byPlugin, exists := r.extensions[definition.Capability]
	if !exists {
		byPlugin = make(map[string][]Handle)
		r.extensions[definition.Capability] = byPlugin
	}

	for _, existing := range byPlugin[pluginID] {
		if existing.ID == definition.ID {
			if definition.ID == "" {
				return fmt.Errorf("plugin %s already registered an unnamed %s extension", pluginID, definition.Capability)
			}
			return fmt.Errorf("extension %s:%s already exists for %s", pluginID, definition.ID, definition.Capability)
		}
	}

	handle := Handle{
		PluginID:   pluginID,
		ID:         definition.ID,
		Capability: definition.Capability,
		Extension:  definition.Extension,
	}
	byPlugin[pluginID] = append(byPlugin[pluginID], handle)
	r.track(pluginID)
	r.generation.Add(1)

	r.logger.Debug("Registered extension", "extension", handle.String(), "plugin", pluginID)
	return nil
}

func (r *Registry) track(pluginID string) {
	for _, id := range r.order {
		if id == pluginID {
			return
		}
	}
	r.order = append(r.order, pluginID)
}

// Unregister removes every extension of a plugin and returns how many were removed
func (r *Registry) Unregister(pluginID string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	removed := 0
	for capability, byPlugin := range r.extensions {
		removed += len(byPlugin[pluginID])
		delete(byPlugin, pluginID)
		if len(byPlugin) == 0 {
			delete(r.extensions, capability)
		}
	}

	for i, id := range r.order {
		if id == pluginID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if removed > 0 {
		r.generation.Add(1)
		r.logger.Debug("Removed extensions", "plugin", pluginID, "count", removed)
	}
	return removed
}

// Extensions returns the extensions of one plugin for a capability
func (r *Registry) Extensions(capability api.Capability, pluginID string) []Handle {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	handles := r.extensions[capability][pluginID]
	result := make([]Handle, len(handles))
	copy(result, handles)
	return result
}

// All returns the extensions of every plugin for a capability, plugins in
// registration order
func (r *Registry) All(capability api.Capability) []Handle {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	byPlugin := r.extensions[capability]
	var result []Handle
	for _, pluginID := range r.order {
		result = append(result, byPlugin[pluginID]...)
	}
	return result
}

// Count returns the number of registered extensions
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	count := 0
	for _, byPlugin := range r.extensions {
		for _, handles := range byPlugin {
			count += len(handles)
		}
	}
	return count
}

// Generation changes whenever extensions are added or removed
func (r *Registry) Generation() uint64 {
	return r.generation.Load()
}
