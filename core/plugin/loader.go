package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sort"
	"strings"

	"github.com/correomqtt/pluginhost/api"
)

// Opener turns a plugin file into a plugin instance
type Opener interface {
	Open(path string) (api.Plugin, error)
}

// Loader discovers and opens Go plugin binaries (*.so) from a directory
type Loader struct {
	pluginDir string
	logger    api.Logger
}

// NewLoader creates a new plugin loader
func NewLoader(pluginDir string, logger api.Logger) *Loader {
	return &Loader{
		pluginDir: pluginDir,
		logger:    logger,
	}
}

// Dir returns the plugin directory
func (l *Loader) Dir() string {
	return l.pluginDir
}

// Discover lists the plugin binaries in the plugin directory, sorted by name
func (l *Loader) Discover() ([]string, error) {
	if _, err := os.Stat(l.pluginDir); os.IsNotExist(err) {
		l.logger.Warn("Plugin directory does not exist", "dir", l.pluginDir)
		return nil, nil
	}

	entries, err := os.ReadDir(l.pluginDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".so") {
			paths = append(paths, filepath.Join(l.pluginDir, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Open loads a single plugin binary and instantiates it through its
// exported NewPlugin function
func (l *Loader) Open(pluginPath string) (api.Plugin, error) {
	l.logger.Debug("Opening plugin", "path", pluginPath)

	p, err := plugin.Open(pluginPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin: %w", err)
	}

	// Look for the NewPlugin symbol
	newPluginSym, err := p.Lookup("NewPlugin")
	if err != nil {
		return nil, fmt.Errorf("plugin does not export NewPlugin function: %w", err)
	}

	// Cast to function
	newPluginFunc, ok := newPluginSym.(func() api.Plugin)
	if !ok {
		return nil, fmt.Errorf("NewPlugin is not a valid function")
	}

	instance := newPluginFunc()
	if instance == nil {
		return nil, fmt.Errorf("NewPlugin returned nil")
	}
	return instance, nil
}
