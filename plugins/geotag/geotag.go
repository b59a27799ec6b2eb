package main

import (
	"strings"
	"sync"

	"github.com/correomqtt/pluginhost/api"
)

// GeoPlugin tags message list entries with location labels read from the topic
type GeoPlugin struct {
	logger  api.Logger
	city    *CityTag
	country *CountryTag
}

// CityTagConfig configures the city label
type CityTagConfig struct {
	Level  int    `toml:"level"`  // topic level holding the city, zero-based
	Prefix string `toml:"prefix"` // prepended to the label
}

// CountryTagConfig configures the country label
type CountryTagConfig struct {
	Level     int               `toml:"level"`
	Countries map[string]string `toml:"countries"` // topic value -> display name
	Fallback  string            `toml:"fallback"`  // label for unknown values, empty skips them
}

// CityTag labels entries with one topic level
type CityTag struct {
	mutex  sync.RWMutex
	config CityTagConfig
}

// CountryTag labels entries with a country name looked up from the topic
type CountryTag struct {
	mutex  sync.RWMutex
	config CountryTagConfig
}

// NewPlugin creates a new geo plugin instance
func NewPlugin() api.Plugin {
	return &GeoPlugin{
		city:    &CityTag{config: CityTagConfig{Level: 1}},
		country: &CountryTag{},
	}
}

// Meta returns plugin metadata
func (p *GeoPlugin) Meta() api.PluginMeta {
	return api.PluginMeta{
		ID:          "geo",
		DisplayName: "Geo Tags",
		Provider:    "CorreoMQTT",
		Repository:  "https://github.com/correomqtt/pluginhost",
		Description: "Adds city and country labels to the message list based on the topic",
		Version:     "1.0.0",
		APIVersion:  api.APIVersionCurrent,
	}
}

// Initialize initializes the plugin
func (p *GeoPlugin) Initialize(core api.CoreAPI) error {
	p.logger = core.GetLogger("geo")
	p.logger.Info("Geo plugin initialized")
	return nil
}

// Shutdown shuts down the plugin
func (p *GeoPlugin) Shutdown() error {
	if p.logger != nil {
		p.logger.Info("Geo plugin shut down")
	}
	return nil
}

// RegisterExtensions returns the extensions provided by this plugin
func (p *GeoPlugin) RegisterExtensions() []api.ExtensionDefinition {
	return []api.ExtensionDefinition{
		{Capability: api.CapabilityMessageList, ID: "city-tag", Extension: p.city},
		{Capability: api.CapabilityMessageList, ID: "country-tag", Extension: p.country},
	}
}

func (t *CityTag) NewConfig() interface{} {
	return &CityTagConfig{Level: 1}
}

func (t *CityTag) OnConfigReceived(config interface{}) {
	cfg, ok := config.(*CityTagConfig)
	if !ok {
		return
	}
	t.mutex.Lock()
	t.config = *cfg
	t.mutex.Unlock()
}

// OnCreateEntry adds the configured topic level as a label
func (t *CityTag) OnCreateEntry(msg api.Message, entry *api.MessageListEntry) {
	t.mutex.RLock()
	cfg := t.config
	t.mutex.RUnlock()

	if value := topicLevel(msg.Topic, cfg.Level); value != "" {
		entry.AddLabel(cfg.Prefix + value)
	}
}

func (t *CountryTag) NewConfig() interface{} {
	return &CountryTagConfig{}
}

func (t *CountryTag) OnConfigReceived(config interface{}) {
	cfg, ok := config.(*CountryTagConfig)
	if !ok {
		return
	}
	countries := make(map[string]string, len(cfg.Countries))
	for code, name := range cfg.Countries {
		countries[strings.ToLower(code)] = name
	}

	t.mutex.Lock()
	t.config = CountryTagConfig{Level: cfg.Level, Countries: countries, Fallback: cfg.Fallback}
	t.mutex.Unlock()
}

// OnCreateEntry adds the country name for the configured topic level
func (t *CountryTag) OnCreateEntry(msg api.Message, entry *api.MessageListEntry) {
	t.mutex.RLock()
	cfg := t.config
	t.mutex.RUnlock()

	value := topicLevel(msg.Topic, cfg.Level)
	if value == "" {
		return
	}
	if name, ok := cfg.Countries[strings.ToLower(value)]; ok {
		entry.AddLabel(name)
	} else if cfg.Fallback != "" {
		entry.AddLabel(cfg.Fallback)
	}
}

func topicLevel(topic string, level int) string {
	if level < 0 {
		return ""
	}
	levels := strings.Split(topic, "/")
	if level >= len(levels) {
		return ""
	}
	return levels[level]
}

func main() {}
