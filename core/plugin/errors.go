package plugin

import "errors"

var (
	// ErrPluginLoadFailed marks a load or start failure during host startup.
	// The host treats it as fatal.
	ErrPluginLoadFailed = errors.New("plugin load failed")

	// ErrPluginNotFound is returned for operations on unknown plugin ids
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrAlreadyLoaded is returned when a plugin id is loaded twice
	ErrAlreadyLoaded = errors.New("plugin already loaded")

	// ErrInvalidTransition is returned when a lifecycle operation is not
	// allowed from the plugin's current state
	ErrInvalidTransition = errors.New("invalid plugin state transition")

	// ErrIncompatibleAPIVersion is returned when activating a plugin built
	// against an unsupported API version
	ErrIncompatibleAPIVersion = errors.New("incompatible plugin API version")

	// ErrForeignPlugin is returned when a plugin registers an extension
	// under another plugin's id
	ErrForeignPlugin = errors.New("extension registered for another plugin")
)
