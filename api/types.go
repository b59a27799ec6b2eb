package api

import (
	"time"
)

// Plugin API versions the host accepts. A plugin declaring a version outside
// this range is loaded but kept disabled.
const (
	APIVersionMin     = 1
	APIVersionCurrent = 1
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Source    string                 `json:"source"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// Lifecycle event types emitted by the host
const (
	EventPluginLoaded       = "plugin.loaded"
	EventPluginStarted      = "plugin.started"
	EventPluginEnabled      = "plugin.enabled"
	EventPluginDisabled     = "plugin.disabled"
	EventPluginStopped      = "plugin.stopped"
	EventPluginUnloaded     = "plugin.unloaded"
	EventPluginUpdateFailed = "plugin.update_failed"
	EventConfigReloaded     = "config.reloaded"
)

// EventFilter defines criteria for filtering events
type EventFilter struct {
	Sources []string          `json:"sources,omitempty"`
	Types   []string          `json:"types,omitempty"`
	Regex   map[string]string `json:"regex,omitempty"`
}

// EventHandler is a function that processes events
type EventHandler func(event Event) error

// PluginMeta contains metadata about a plugin
type PluginMeta struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Provider    string `json:"provider"`
	Repository  string `json:"repository"`
	Description string `json:"description"`
	Version     string `json:"version"`
	APIVersion  int    `json:"api_version"`
}

// PluginState is the lifecycle position of a loaded plugin.
type PluginState string

const (
	StateCreated  PluginState = "created"
	StateResolved PluginState = "resolved"
	StateStarted  PluginState = "started"
	StateDisabled PluginState = "disabled"
	StateStopped  PluginState = "stopped"
	StateUnloaded PluginState = "unloaded"
)

// Capability tags a hook category. Every extension registers under exactly one.
type Capability string

const (
	CapabilityOutgoingMessage       Capability = "outgoing_message"
	CapabilityIncomingMessage       Capability = "incoming_message"
	CapabilityMessageList           Capability = "message_list"
	CapabilityMessageValidator      Capability = "message_validator"
	CapabilityDetailViewManipulator Capability = "detail_view_manipulator"
	CapabilityLwtSettings           Capability = "lwt_settings"
	CapabilityKeyring               Capability = "keyring"
)

// Capabilities lists every known hook category.
func Capabilities() []Capability {
	return []Capability{
		CapabilityOutgoingMessage,
		CapabilityIncomingMessage,
		CapabilityMessageList,
		CapabilityMessageValidator,
		CapabilityDetailViewManipulator,
		CapabilityLwtSettings,
		CapabilityKeyring,
	}
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	for _, known := range Capabilities() {
		if c == known {
			return true
		}
	}
	return false
}

// ExtensionDefinition is what a plugin hands to the host for each extension
// it offers. ID is optional and only needs to be unique among the plugin's
// extensions of the same capability.
type ExtensionDefinition struct {
	Capability Capability
	ID         string
	Extension  interface{}
}
