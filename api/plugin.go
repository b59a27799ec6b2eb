package api

// Plugin is the main interface that all plugins must implement
type Plugin interface {
	// Meta returns plugin metadata
	Meta() PluginMeta

	// Initialize is called when the plugin is started
	Initialize(api CoreAPI) error

	// Shutdown is called when the plugin is stopped
	Shutdown() error

	// RegisterExtensions returns the extensions provided by this plugin
	RegisterExtensions() []ExtensionDefinition
}

// Configurable is implemented by extensions that declare a configuration type.
// NewConfig returns a pointer to a fresh value of that type; the host decodes
// the configured payload into it and hands it to OnConfigReceived before the
// extension is used.
type Configurable interface {
	NewConfig() interface{}
	OnConfigReceived(config interface{})
}

// ConfigSchemaProvider lets a configurable extension declare a JSON Schema the
// raw configuration has to satisfy before it is decoded.
type ConfigSchemaProvider interface {
	ConfigSchema() string
}
