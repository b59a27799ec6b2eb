package api

// CoreAPI is the interface exposed to plugins for interacting with the host
type CoreAPI interface {
	// Extension registration outside of RegisterExtensions
	RegisterExtension(pluginID string, definition ExtensionDefinition) error

	// Event handling
	EmitEvent(event Event) error
	SubscribeToEvents(filter EventFilter, handler EventHandler) error

	// Logging
	GetLogger(prefix string) Logger
}
