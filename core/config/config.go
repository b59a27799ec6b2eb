package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Core    CoreConfig              `toml:"core" yaml:"core"`
	Plugins map[string]PluginConfig `toml:"plugins" yaml:"plugins"`
	Include []IncludeConfig         `toml:"include" yaml:"include"`
	Hooks   HooksConfig             `toml:"hooks" yaml:"hooks"`

	// files and include patterns that make up this document, absolute paths
	sources  []string
	patterns []string
}

// CoreConfig contains core host configuration
type CoreConfig struct {
	PluginDir  string `toml:"plugin_dir" yaml:"plugin_dir"`
	SocketPath string `toml:"socket_path" yaml:"socket_path"`
	LogLevel   string `toml:"log_level" yaml:"log_level"`
	LogFormat  string `toml:"log_format" yaml:"log_format"`
	PIDFile    string `toml:"pid_file" yaml:"pid_file"`
	Watch      *bool  `toml:"watch" yaml:"watch"`

	// CacheHooks keeps resolved hook lists until configuration or plugin
	// state changes. Extensions then receive their configuration once per
	// rebuild, not on every listing.
	CacheHooks *bool `toml:"cache_hooks" yaml:"cache_hooks"`
}

// PluginConfig contains plugin-specific configuration
type PluginConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// IncludeConfig specifies additional configuration files to include
type IncludeConfig struct {
	Files []string `toml:"files" yaml:"files"`
}

// ExtensionRef points at one extension of a plugin. ExtensionID may be empty
// when the plugin offers a single extension of the category. Config is handed
// to the extension as its raw configuration payload.
type ExtensionRef struct {
	PluginID    string                 `toml:"plugin_id" yaml:"plugin_id" json:"plugin_id"`
	ExtensionID string                 `toml:"extension_id" yaml:"extension_id" json:"extension_id,omitempty"`
	Config      map[string]interface{} `toml:"config" yaml:"config" json:"config,omitempty"`
}

func (r ExtensionRef) String() string {
	if r.ExtensionID == "" {
		return r.PluginID
	}
	return r.PluginID + ":" + r.ExtensionID
}

// ValidatorConfig binds validator references to a topic string.
type ValidatorConfig struct {
	Topic      string         `toml:"topic" yaml:"topic"`
	Extensions []ExtensionRef `toml:"extensions" yaml:"extensions"`
}

// TaskConfig is a named, ordered group of detail view manipulators.
type TaskConfig struct {
	Name       string         `toml:"name" yaml:"name"`
	Extensions []ExtensionRef `toml:"extensions" yaml:"extensions"`
}

// HooksConfig lists the configured extension references per hook category.
type HooksConfig struct {
	OutgoingMessages  []ExtensionRef    `toml:"outgoing_messages" yaml:"outgoing_messages"`
	IncomingMessages  []ExtensionRef    `toml:"incoming_messages" yaml:"incoming_messages"`
	MessageList       []ExtensionRef    `toml:"message_list" yaml:"message_list"`
	MessageValidators []ValidatorConfig `toml:"message_validators" yaml:"message_validators"`
	DetailViewTasks   []TaskConfig      `toml:"detail_view_tasks" yaml:"detail_view_tasks"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	watch := true
	cache := false
	return &Config{
		Core: CoreConfig{
			PluginDir:  "/usr/lib/pluginhost/plugins",
			SocketPath: "/var/run/pluginhost.sock",
			LogLevel:   "info",
			LogFormat:  "console",
			Watch:      &watch,
			CacheHooks: &cache,
		},
		Plugins: make(map[string]PluginConfig),
		Include: []IncludeConfig{},
	}
}

// LoadConfig loads configuration from the specified file
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %s: %w", configPath, err)
	}

	// Load main config file
	if err := loadConfigFile(absPath, config); err != nil {
		return nil, fmt.Errorf("failed to load main config: %w", err)
	}

	// Load included files; includes of included files are not followed
	baseDir := filepath.Dir(absPath)
	includes := append([]IncludeConfig(nil), config.Include...)
	for _, include := range includes {
		for _, pattern := range include.Files {
			fullPattern := pattern
			if !filepath.IsAbs(fullPattern) {
				fullPattern = filepath.Join(baseDir, pattern)
			}
			config.patterns = append(config.patterns, fullPattern)

			matches, err := filepath.Glob(fullPattern)
			if err != nil {
				return nil, fmt.Errorf("failed to glob pattern %s: %w", fullPattern, err)
			}

			for _, match := range matches {
				if match == absPath {
					continue // Skip the main config file
				}

				if err := loadConfigFile(match, config); err != nil {
					return nil, fmt.Errorf("failed to load included config %s: %w", match, err)
				}
			}
		}
	}

	return config, nil
}

// loadConfigFile loads a single configuration file and merges it into the existing config
func loadConfigFile(path string, config *Config) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", path)
	}

	var tempConfig Config
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &tempConfig); err != nil {
			return fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	} else {
		if _, err := toml.DecodeFile(path, &tempConfig); err != nil {
			return fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	mergeConfigs(config, &tempConfig)
	config.sources = append(config.sources, path)
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// mergeConfigs merges tempConfig into config
func mergeConfigs(config, tempConfig *Config) {
	// Merge core config (tempConfig takes precedence for non-empty values)
	if tempConfig.Core.PluginDir != "" {
		config.Core.PluginDir = tempConfig.Core.PluginDir
	}
	if tempConfig.Core.SocketPath != "" {
		config.Core.SocketPath = tempConfig.Core.SocketPath
	}
	if tempConfig.Core.LogLevel != "" {
		config.Core.LogLevel = tempConfig.Core.LogLevel
	}
	if tempConfig.Core.LogFormat != "" {
		config.Core.LogFormat = tempConfig.Core.LogFormat
	}
	if tempConfig.Core.PIDFile != "" {
		config.Core.PIDFile = tempConfig.Core.PIDFile
	}
	if tempConfig.Core.Watch != nil {
		config.Core.Watch = tempConfig.Core.Watch
	}
	if tempConfig.Core.CacheHooks != nil {
		config.Core.CacheHooks = tempConfig.Core.CacheHooks
	}

	// Merge plugins
	if config.Plugins == nil {
		config.Plugins = make(map[string]PluginConfig)
	}
	for k, v := range tempConfig.Plugins {
		config.Plugins[k] = v
	}

	// Append includes
	config.Include = append(config.Include, tempConfig.Include...)

	// Append hooks, keeping file order
	hooks := &config.Hooks
	hooks.OutgoingMessages = append(hooks.OutgoingMessages, tempConfig.Hooks.OutgoingMessages...)
	hooks.IncomingMessages = append(hooks.IncomingMessages, tempConfig.Hooks.IncomingMessages...)
	hooks.MessageList = append(hooks.MessageList, tempConfig.Hooks.MessageList...)
	hooks.MessageValidators = append(hooks.MessageValidators, tempConfig.Hooks.MessageValidators...)
	hooks.DetailViewTasks = append(hooks.DetailViewTasks, tempConfig.Hooks.DetailViewTasks...)
}

// IsPluginEnabled checks if a plugin is enabled
func (c *Config) IsPluginEnabled(pluginID string) bool {
	if pluginConfig, exists := c.Plugins[pluginID]; exists {
		return pluginConfig.Enabled
	}
	return true // Default to enabled if not specified
}

// WatchEnabled reports whether the config files should be watched for changes
func (c *Config) WatchEnabled() bool {
	return c.Core.Watch == nil || *c.Core.Watch
}

// CacheHooksEnabled reports whether resolved hook sets may be cached. With the
// cache on, OnConfigReceived runs once per rebuild instead of once per call.
func (c *Config) CacheHooksEnabled() bool {
	return c.Core.CacheHooks != nil && *c.Core.CacheHooks
}

// Sources returns the files this configuration was loaded from
func (c *Config) Sources() []string {
	return append([]string(nil), c.sources...)
}

// IncludePatterns returns the absolute include globs of this configuration
func (c *Config) IncludePatterns() []string {
	return append([]string(nil), c.patterns...)
}
