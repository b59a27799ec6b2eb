package plugin

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/correomqtt/pluginhost/api"
	"github.com/correomqtt/pluginhost/core/extension"
)

// Emitter publishes lifecycle events
type Emitter interface {
	EmitEvent(event api.Event) error
}

// ManagerConfig configures the plugin manager
type ManagerConfig struct {
	// PluginDir is where plugin binaries are discovered
	PluginDir string

	// IsEnabled reports whether a plugin should be started after loading.
	// Nil enables every plugin.
	IsEnabled func(pluginID string) bool
}

// LoadedPlugin represents a loaded plugin
type LoadedPlugin struct {
	Plugin      api.Plugin
	Meta        api.PluginMeta
	FilePath    string
	State       api.PluginState
	initialized bool

	// set when the API version check failed; the plugin can never start
	updateFailed bool
}

// PluginInfo is a snapshot of a loaded plugin for listings
type PluginInfo struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Provider    string          `json:"provider"`
	Path        string          `json:"path"`
	State       api.PluginState `json:"state"`
}

// Manager owns the loaded plugins and their lifecycle. State transitions:
//
//	created -> resolved -> started <-> disabled
//	started|disabled -> stopped -> unloaded
//
// Extensions of a plugin are registered when it first starts and removed
// when it is unloaded.
type Manager struct {
	mutex      sync.RWMutex
	plugins    map[string]*LoadedPlugin
	loadOrder  []string
	opener     Opener
	loader     *Loader
	registry   *extension.Registry
	coreAPI    api.CoreAPI
	emitter    Emitter
	isEnabled  func(pluginID string) bool
	logger     api.Logger
	generation atomic.Uint64
}

// NewManager creates a plugin manager. coreAPI is handed to plugins on
// initialization; emitter may be nil.
func NewManager(config ManagerConfig, registry *extension.Registry, coreAPI api.CoreAPI, emitter Emitter, logger api.Logger) *Manager {
	loader := NewLoader(config.PluginDir, logger)
	isEnabled := config.IsEnabled
	if isEnabled == nil {
		isEnabled = func(string) bool { return true }
	}
	return &Manager{
		plugins:   make(map[string]*LoadedPlugin),
		opener:    loader,
		loader:    loader,
		registry:  registry,
		coreAPI:   coreAPI,
		emitter:   emitter,
		isEnabled: isEnabled,
		logger:    logger,
	}
}

// SetOpener replaces the binary opener
func (m *Manager) SetOpener(opener Opener) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.opener = opener
}

// LoadAll loads every plugin binary in the plugin directory. Any failure is
// reported as ErrPluginLoadFailed after all binaries have been tried.
func (m *Manager) LoadAll() error {
	paths, err := m.loader.Discover()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPluginLoadFailed, err)
	}

	var loadErrors []error
	for _, path := range paths {
		if err := m.Load(path); err != nil {
			m.logger.Error("Failed to load plugin", "path", path, "error", err)
			loadErrors = append(loadErrors, fmt.Errorf("%s: %w", path, err))
		}
	}

	m.logger.Info("Loaded plugins", "count", m.Count())
	if len(loadErrors) > 0 {
		return fmt.Errorf("%w: %w", ErrPluginLoadFailed, errors.Join(loadErrors...))
	}
	return nil
}

// Load opens a plugin binary and registers it
func (m *Manager) Load(path string) error {
	m.mutex.RLock()
	opener := m.opener
	m.mutex.RUnlock()

	p, err := opener.Open(path)
	if err != nil {
		return err
	}
	return m.Register(p, path)
}

// Register adds an already instantiated plugin. The plugin ends up resolved,
// or disabled when it is switched off in configuration or targets an
// unsupported API version.
func (m *Manager) Register(p api.Plugin, path string) error {
	if p == nil {
		return fmt.Errorf("plugin cannot be nil")
	}
	meta := p.Meta()
	if meta.ID == "" {
		return fmt.Errorf("plugin at %q has an empty id", path)
	}

	m.mutex.Lock()
	if _, exists := m.plugins[meta.ID]; exists {
		m.mutex.Unlock()
		return fmt.Errorf("plugin %s: %w", meta.ID, ErrAlreadyLoaded)
	}
	loaded := &LoadedPlugin{
		Plugin:   p,
		Meta:     meta,
		FilePath: path,
		State:    api.StateCreated,
	}
	m.plugins[meta.ID] = loaded
	m.loadOrder = append(m.loadOrder, meta.ID)

	var events []api.Event
	compatible := meta.APIVersion >= api.APIVersionMin && meta.APIVersion <= api.APIVersionCurrent
	switch {
	case !compatible:
		loaded.State = api.StateDisabled
		loaded.updateFailed = true
		m.logger.Warn("Plugin targets an unsupported API version, keeping it disabled",
			"id", meta.ID, "api_version", meta.APIVersion,
			"min", api.APIVersionMin, "current", api.APIVersionCurrent)
		events = append(events, m.event(api.EventPluginUpdateFailed, meta.ID, map[string]interface{}{
			"path":        path,
			"api_version": meta.APIVersion,
		}))
	case !m.isEnabled(meta.ID):
		loaded.State = api.StateDisabled
	default:
		loaded.State = api.StateResolved
	}
	m.generation.Add(1)
	state := loaded.State
	m.mutex.Unlock()

	m.logger.Info("Loaded plugin", "id", meta.ID, "name", meta.DisplayName, "version", meta.Version, "state", state)
	m.publish(append([]api.Event{m.event(api.EventPluginLoaded, meta.ID, map[string]interface{}{"state": string(state)})}, events...)...)
	return nil
}

// StartAll starts every resolved plugin in load order. Failures are
// reported as ErrPluginLoadFailed.
func (m *Manager) StartAll() error {
	var startErrors []error
	for _, id := range m.ids() {
		state, ok := m.PluginState(id)
		if !ok || state != api.StateResolved {
			continue
		}
		if err := m.Start(id); err != nil {
			m.logger.Error("Failed to start plugin", "id", id, "error", err)
			startErrors = append(startErrors, err)
		}
	}
	if len(startErrors) > 0 {
		return fmt.Errorf("%w: %w", ErrPluginLoadFailed, errors.Join(startErrors...))
	}
	return nil
}

// Start starts a resolved plugin
func (m *Manager) Start(id string) error {
	return m.transition(id, api.EventPluginStarted, func(p *LoadedPlugin) error {
		switch p.State {
		case api.StateStarted:
			return errNoop
		case api.StateResolved:
			return m.activate(p)
		default:
			return fmt.Errorf("cannot start plugin %s in state %s: %w", id, p.State, ErrInvalidTransition)
		}
	})
}

// Enable re-activates a disabled plugin
func (m *Manager) Enable(id string) error {
	return m.transition(id, api.EventPluginEnabled, func(p *LoadedPlugin) error {
		switch p.State {
		case api.StateStarted:
			return errNoop
		case api.StateDisabled, api.StateResolved:
			return m.activate(p)
		default:
			return fmt.Errorf("cannot enable plugin %s in state %s: %w", id, p.State, ErrInvalidTransition)
		}
	})
}

// Disable takes a plugin out of resolution without shutting it down
func (m *Manager) Disable(id string) error {
	return m.transition(id, api.EventPluginDisabled, func(p *LoadedPlugin) error {
		switch p.State {
		case api.StateDisabled:
			return errNoop
		case api.StateStarted, api.StateResolved:
			p.State = api.StateDisabled
			return nil
		default:
			return fmt.Errorf("cannot disable plugin %s in state %s: %w", id, p.State, ErrInvalidTransition)
		}
	})
}

// Stop shuts a started or disabled plugin down
func (m *Manager) Stop(id string) error {
	return m.transition(id, api.EventPluginStopped, func(p *LoadedPlugin) error {
		switch p.State {
		case api.StateStopped:
			return errNoop
		case api.StateStarted, api.StateDisabled:
			m.shutdown(p)
			return nil
		default:
			return fmt.Errorf("cannot stop plugin %s in state %s: %w", id, p.State, ErrInvalidTransition)
		}
	})
}

// StopAll stops every started or disabled plugin
func (m *Manager) StopAll() {
	for _, id := range m.ids() {
		state, ok := m.PluginState(id)
		if !ok || (state != api.StateStarted && state != api.StateDisabled) {
			continue
		}
		if err := m.Stop(id); err != nil {
			m.logger.Error("Failed to stop plugin", "id", id, "error", err)
		}
	}
}

// Unload stops a plugin if needed, removes its extensions and forgets it
func (m *Manager) Unload(id string) error {
	m.mutex.Lock()
	loaded, exists := m.plugins[id]
	if !exists {
		m.mutex.Unlock()
		return fmt.Errorf("plugin %s: %w", id, ErrPluginNotFound)
	}

	var events []api.Event
	if loaded.State == api.StateStarted || loaded.State == api.StateDisabled {
		m.shutdown(loaded)
		events = append(events, m.event(api.EventPluginStopped, id, nil))
	}

	removed := m.registry.Unregister(id)
	loaded.State = api.StateUnloaded
	delete(m.plugins, id)
	for i, loadedID := range m.loadOrder {
		if loadedID == id {
			m.loadOrder = append(m.loadOrder[:i], m.loadOrder[i+1:]...)
			break
		}
	}
	m.generation.Add(1)
	m.mutex.Unlock()

	m.logger.Info("Unloaded plugin", "id", id, "extensions", removed)
	m.publish(append(events, m.event(api.EventPluginUnloaded, id, nil))...)
	return nil
}

// UnloadAll unloads every loaded plugin
func (m *Manager) UnloadAll() {
	m.logger.Debug("Unload plugins")
	for _, id := range m.ids() {
		m.logger.Debug("Unload plugin", "id", id)
		if err := m.Unload(id); err != nil {
			m.logger.Error("Failed to unload plugin", "id", id, "error", err)
		}
	}
}

// PluginState returns the lifecycle state of a loaded plugin
func (m *Manager) PluginState(id string) (api.PluginState, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	loaded, exists := m.plugins[id]
	if !exists {
		return "", false
	}
	return loaded.State, true
}

// Get returns a snapshot of a loaded plugin
func (m *Manager) Get(id string) (PluginInfo, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	loaded, exists := m.plugins[id]
	if !exists {
		return PluginInfo{}, false
	}
	return info(loaded), true
}

// List returns snapshots of all loaded plugins in load order
func (m *Manager) List() []PluginInfo {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]PluginInfo, 0, len(m.loadOrder))
	for _, id := range m.loadOrder {
		result = append(result, info(m.plugins[id]))
	}
	return result
}

// Count returns the number of loaded plugins
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.plugins)
}

// Generation changes whenever a plugin changes state
func (m *Manager) Generation() uint64 {
	return m.generation.Load()
}

// PluginFolder makes sure the plugin directory exists and returns it
func (m *Manager) PluginFolder() (string, error) {
	dir := m.loader.Dir()
	if dir == "" {
		return "", fmt.Errorf("no plugin directory configured")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create plugin directory %s: %w", dir, err)
	}
	return dir, nil
}

var errNoop = errors.New("no state change")

// transition runs change under the manager lock and publishes eventType if
// the state actually changed
func (m *Manager) transition(id, eventType string, change func(p *LoadedPlugin) error) error {
	m.mutex.Lock()
	loaded, exists := m.plugins[id]
	if !exists {
		m.mutex.Unlock()
		return fmt.Errorf("plugin %s: %w", id, ErrPluginNotFound)
	}

	from := loaded.State
	err := change(loaded)
	if errors.Is(err, errNoop) {
		m.mutex.Unlock()
		return nil
	}
	if err != nil {
		m.mutex.Unlock()
		return err
	}
	to := loaded.State
	m.generation.Add(1)
	m.mutex.Unlock()

	m.logger.Info("Plugin state changed", "id", id, "from", from, "to", to)
	m.publish(m.event(eventType, id, map[string]interface{}{"from": string(from), "to": string(to)}))
	return nil
}

// activate initializes the plugin on first use and registers its
// extensions. Called with the manager lock held.
func (m *Manager) activate(p *LoadedPlugin) error {
	if p.updateFailed {
		return fmt.Errorf("plugin %s targets API version %d: %w", p.Meta.ID, p.Meta.APIVersion, ErrIncompatibleAPIVersion)
	}
	if !p.initialized {
		if err := p.Plugin.Initialize(m.pluginCore(p.Meta.ID)); err != nil {
			return fmt.Errorf("failed to initialize plugin %s: %w", p.Meta.ID, err)
		}
		for _, definition := range p.Plugin.RegisterExtensions() {
			if err := m.registry.Register(p.Meta.ID, definition); err != nil {
				m.logger.Error("Failed to register extension", "plugin", p.Meta.ID,
					"capability", definition.Capability, "extension", definition.ID, "error", err)
			}
		}
		p.initialized = true
	}
	p.State = api.StateStarted
	return nil
}

// pluginCore is the CoreAPI handed to a single plugin. Extensions it
// registers are bound to its own id.
type pluginCore struct {
	api.CoreAPI
	pluginID string
}

func (c *pluginCore) RegisterExtension(pluginID string, definition api.ExtensionDefinition) error {
	if pluginID == "" {
		pluginID = c.pluginID
	}
	if pluginID != c.pluginID {
		return fmt.Errorf("plugin %s cannot register %q for %s: %w", c.pluginID, definition.ID, pluginID, ErrForeignPlugin)
	}
	return c.CoreAPI.RegisterExtension(pluginID, definition)
}

func (m *Manager) pluginCore(pluginID string) api.CoreAPI {
	if m.coreAPI == nil {
		return nil
	}
	return &pluginCore{CoreAPI: m.coreAPI, pluginID: pluginID}
}

// shutdown calls the plugin's Shutdown once. Called with the manager lock held.
func (m *Manager) shutdown(p *LoadedPlugin) {
	if p.initialized {
		if err := p.Plugin.Shutdown(); err != nil {
			m.logger.Error("Failed to shutdown plugin", "id", p.Meta.ID, "error", err)
		}
		p.initialized = false
	}
	p.State = api.StateStopped
}

func (m *Manager) ids() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]string(nil), m.loadOrder...)
}

func (m *Manager) event(eventType, pluginID string, payload map[string]interface{}) api.Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["plugin"] = pluginID
	return api.Event{
		Source:    "plugin",
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

func (m *Manager) publish(events ...api.Event) {
	if m.emitter == nil {
		return
	}
	for _, event := range events {
		if err := m.emitter.EmitEvent(event); err != nil {
			m.logger.Error("Failed to emit lifecycle event", "type", event.Type, "error", err)
		}
	}
}

func info(p *LoadedPlugin) PluginInfo {
	return PluginInfo{
		ID:          p.Meta.ID,
		DisplayName: p.Meta.DisplayName,
		Version:     p.Meta.Version,
		Description: p.Meta.Description,
		Provider:    p.Meta.Provider,
		Path:        p.FilePath,
		State:       p.State,
	}
}
