package extension

import (
	"github.com/correomqtt/pluginhost/api"
)

// StateSource reports the lifecycle state of loaded plugins
type StateSource interface {
	PluginState(pluginID string) (api.PluginState, bool)
}

// Resolver turns extension references into registered extensions. A
// reference that cannot be resolved yields no value and one diagnostic log
// entry; it is never an error.
type Resolver struct {
	registry *Registry
	states   StateSource
	logger   api.Logger
}

// NewResolver creates a resolver over registry, consulting states to decide
// which plugins may contribute extensions
func NewResolver(registry *Registry, states StateSource, logger api.Logger) *Resolver {
	return &Resolver{
		registry: registry,
		states:   states,
		logger:   logger,
	}
}

// Resolve returns the extension of pluginID for capability identified by
// extensionID. An empty extensionID selects the plugin's only extension of
// that capability, or its single unnamed one.
func (r *Resolver) Resolve(capability api.Capability, pluginID, extensionID string) (Handle, bool) {
	candidates := r.candidates(capability, pluginID)

	if handle, ok := match(candidates, extensionID); ok {
		return handle, true
	}

	r.logMiss(capability, pluginID, extensionID, len(candidates))
	return Handle{}, false
}

// Started returns every extension of capability offered by started plugins,
// in plugin registration order
func (r *Resolver) Started(capability api.Capability) []Handle {
	var result []Handle
	for _, handle := range r.registry.All(capability) {
		if r.started(handle.PluginID) {
			result = append(result, handle)
		}
	}
	return result
}

func (r *Resolver) candidates(capability api.Capability, pluginID string) []Handle {
	if !r.started(pluginID) {
		return nil
	}
	return r.registry.Extensions(capability, pluginID)
}

func (r *Resolver) started(pluginID string) bool {
	state, ok := r.states.PluginState(pluginID)
	return ok && state == api.StateStarted
}

func match(candidates []Handle, extensionID string) (Handle, bool) {
	if extensionID == "" {
		if len(candidates) == 1 {
			return candidates[0], true
		}
		for _, candidate := range candidates {
			if candidate.ID == "" {
				return candidate, true
			}
		}
		return Handle{}, false
	}

	for _, candidate := range candidates {
		if candidate.ID == extensionID {
			return candidate, true
		}
	}
	return Handle{}, false
}

// logMiss emits exactly one diagnostic for an unresolved reference. The
// plugin state is read again, so a plugin disabled during the scan is
// reported as not started.
func (r *Resolver) logMiss(capability api.Capability, pluginID, extensionID string, candidates int) {
	if candidates > 0 {
		if extensionID == "" {
			r.logger.Info("Plugin offers multiple valid extensions, please specify an extension id",
				"plugin", pluginID, "capability", capability)
		} else {
			r.logger.Info("Plugin has no extension with the given id",
				"plugin", pluginID, "capability", capability, "extension", extensionID)
		}
		return
	}

	if r.started(pluginID) {
		r.logger.Warn("Plugin has no valid extension",
			"plugin", pluginID, "capability", capability, "extension", extensionID)
	} else {
		r.logger.Warn("Plugin is not started",
			"plugin", pluginID, "capability", capability, "extension", extensionID)
	}
}
