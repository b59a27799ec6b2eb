// Package hooks turns configured extension references into the ordered hook
// lists the message pipeline and the UI call into.
package hooks

import (
	"github.com/correomqtt/pluginhost/api"
	"github.com/correomqtt/pluginhost/core/config"
	"github.com/correomqtt/pluginhost/core/extension"
	"github.com/correomqtt/pluginhost/core/inject"
)

// ConfigSource provides the configured hook references
type ConfigSource interface {
	Hooks() config.HooksConfig
	Generation() uint64
}

// Generationer is anything whose changes should invalidate cached hook lists
type Generationer interface {
	Generation() uint64
}

// DetailViewTask is a named, ordered group of detail view manipulators
type DetailViewTask struct {
	Name  string
	Hooks []api.DetailViewManipulatorHook
}

// Aggregator resolves the configured references of every hook category.
// Each call re-reads configuration and plugin state, so enable, disable and
// configuration edits show up on the next call. Returned slices are never
// touched again by the aggregator.
type Aggregator struct {
	source   ConfigSource
	resolver *extension.Resolver
	injector *inject.Injector
	logger   api.Logger
	cache    *cache
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithCache keeps the last resolved list per category and topic until the
// configuration or any of sources changes generation. Configuration is
// injected once per rebuild instead of once per call.
func WithCache(sources ...Generationer) Option {
	return func(a *Aggregator) {
		a.cache = newCache(append([]Generationer{a.source}, sources...))
	}
}

// NewAggregator creates a hook aggregator
func NewAggregator(source ConfigSource, resolver *extension.Resolver, injector *inject.Injector, logger api.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		source:   source,
		resolver: resolver,
		injector: injector,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ListHooks returns the resolved and configured extensions of capability in
// configuration order. topic filters validator references by exact string
// equality and is ignored for other categories. Detail view tasks are
// flattened in task order. Categories without configured references return
// the extensions of every started plugin.
func (a *Aggregator) ListHooks(capability api.Capability, topic string) []extension.Handle {
	key := string(capability)
	if capability == api.CapabilityMessageValidator {
		key += "|" + topic
	}

	if a.cache == nil {
		return a.list(capability, topic)
	}
	value := a.cache.get(key, func() interface{} {
		return a.list(capability, topic)
	})
	handles := value.([]extension.Handle)
	return append([]extension.Handle(nil), handles...)
}

// PreviewHooks lists what ListHooks would return without injecting any
// configuration and without touching the cache
func (a *Aggregator) PreviewHooks(capability api.Capability, topic string) []extension.Handle {
	refs, configured := a.references(capability, topic)
	if !configured {
		return a.resolver.Started(capability)
	}
	result := make([]extension.Handle, 0, len(refs))
	for _, ref := range refs {
		if handle, ok := a.resolver.Resolve(capability, ref.PluginID, ref.ExtensionID); ok {
			result = append(result, handle)
		}
	}
	return result
}

// ResolveReference resolves ref and injects its configuration
func (a *Aggregator) ResolveReference(capability api.Capability, ref config.ExtensionRef) (extension.Handle, bool) {
	handle, ok := a.resolver.Resolve(capability, ref.PluginID, ref.ExtensionID)
	if !ok {
		a.logger.Debug("Skipping unresolved hook reference", "capability", capability, "reference", ref.String())
		return extension.Handle{}, false
	}
	a.injector.Inject(handle, ref.Config)
	return handle, true
}

// ResolveWithConfig resolves an extension and hands it an already typed
// configuration
func (a *Aggregator) ResolveWithConfig(capability api.Capability, pluginID, extensionID string, cfg interface{}) (extension.Handle, bool) {
	handle, ok := a.resolver.Resolve(capability, pluginID, extensionID)
	if !ok {
		return extension.Handle{}, false
	}
	a.injector.InjectValue(handle, cfg)
	return handle, true
}

// OutgoingMessageHooks returns the configured outgoing message hooks
func (a *Aggregator) OutgoingMessageHooks() []api.OutgoingMessageHook {
	handles := a.ListHooks(api.CapabilityOutgoingMessage, "")
	result := make([]api.OutgoingMessageHook, 0, len(handles))
	for _, handle := range handles {
		result = append(result, handle.Extension.(api.OutgoingMessageHook))
	}
	return result
}

// IncomingMessageHooks returns the configured incoming message hooks
func (a *Aggregator) IncomingMessageHooks() []api.IncomingMessageHook {
	handles := a.ListHooks(api.CapabilityIncomingMessage, "")
	result := make([]api.IncomingMessageHook, 0, len(handles))
	for _, handle := range handles {
		result = append(result, handle.Extension.(api.IncomingMessageHook))
	}
	return result
}

// MessageListHooks returns the configured message list decorators
func (a *Aggregator) MessageListHooks() []api.MessageListHook {
	handles := a.ListHooks(api.CapabilityMessageList, "")
	result := make([]api.MessageListHook, 0, len(handles))
	for _, handle := range handles {
		result = append(result, handle.Extension.(api.MessageListHook))
	}
	return result
}

// MessageValidators returns the validators configured for exactly topic
func (a *Aggregator) MessageValidators(topic string) []api.MessageValidatorHook {
	handles := a.ListHooks(api.CapabilityMessageValidator, topic)
	result := make([]api.MessageValidatorHook, 0, len(handles))
	for _, handle := range handles {
		result = append(result, handle.Extension.(api.MessageValidatorHook))
	}
	return result
}

// LwtSettingsHooks returns the LWT settings hooks of every started plugin
func (a *Aggregator) LwtSettingsHooks() []api.LwtSettingsHook {
	handles := a.ListHooks(api.CapabilityLwtSettings, "")
	result := make([]api.LwtSettingsHook, 0, len(handles))
	for _, handle := range handles {
		result = append(result, handle.Extension.(api.LwtSettingsHook))
	}
	return result
}

// KeyringHooks returns the keyring backends of every started plugin
func (a *Aggregator) KeyringHooks() []api.KeyringHook {
	handles := a.ListHooks(api.CapabilityKeyring, "")
	result := make([]api.KeyringHook, 0, len(handles))
	for _, handle := range handles {
		result = append(result, handle.Extension.(api.KeyringHook))
	}
	return result
}

// DetailViewTasks returns every configured task. Unresolved members are
// left out; a task whose members all failed is still returned, empty.
func (a *Aggregator) DetailViewTasks() []DetailViewTask {
	if a.cache == nil {
		return a.tasks()
	}
	value := a.cache.get("detail_view_tasks", func() interface{} {
		return a.tasks()
	})
	return copyTasks(value.([]DetailViewTask))
}

func (a *Aggregator) list(capability api.Capability, topic string) []extension.Handle {
	refs, configured := a.references(capability, topic)
	if !configured {
		return a.started(capability)
	}
	return a.resolveAll(capability, refs)
}

// references returns the configured references of capability. The second
// result is false for categories that are not configured by reference.
func (a *Aggregator) references(capability api.Capability, topic string) ([]config.ExtensionRef, bool) {
	hooks := a.source.Hooks()

	var refs []config.ExtensionRef
	switch capability {
	case api.CapabilityOutgoingMessage:
		refs = hooks.OutgoingMessages
	case api.CapabilityIncomingMessage:
		refs = hooks.IncomingMessages
	case api.CapabilityMessageList:
		refs = hooks.MessageList
	case api.CapabilityMessageValidator:
		for _, validator := range hooks.MessageValidators {
			if validator.Topic == topic {
				refs = append(refs, validator.Extensions...)
			}
		}
	case api.CapabilityDetailViewManipulator:
		for _, task := range hooks.DetailViewTasks {
			refs = append(refs, task.Extensions...)
		}
	default:
		return nil, false
	}
	return refs, true
}

func (a *Aggregator) resolveAll(capability api.Capability, refs []config.ExtensionRef) []extension.Handle {
	result := make([]extension.Handle, 0, len(refs))
	for _, ref := range refs {
		if handle, ok := a.ResolveReference(capability, ref); ok {
			result = append(result, handle)
		}
	}
	return result
}

// started lists unconfigured categories. Each extension still receives an
// empty configuration.
func (a *Aggregator) started(capability api.Capability) []extension.Handle {
	handles := a.resolver.Started(capability)
	for _, handle := range handles {
		a.injector.Inject(handle, nil)
	}
	return handles
}

func (a *Aggregator) tasks() []DetailViewTask {
	configured := a.source.Hooks().DetailViewTasks
	result := make([]DetailViewTask, 0, len(configured))
	for _, task := range configured {
		handles := a.resolveAll(api.CapabilityDetailViewManipulator, task.Extensions)
		hooks := make([]api.DetailViewManipulatorHook, 0, len(handles))
		for _, handle := range handles {
			hooks = append(hooks, handle.Extension.(api.DetailViewManipulatorHook))
		}
		result = append(result, DetailViewTask{Name: task.Name, Hooks: hooks})
	}
	return result
}

func copyTasks(tasks []DetailViewTask) []DetailViewTask {
	result := make([]DetailViewTask, len(tasks))
	for i, task := range tasks {
		result[i] = DetailViewTask{
			Name:  task.Name,
			Hooks: append([]api.DetailViewManipulatorHook(nil), task.Hooks...),
		}
	}
	return result
}
