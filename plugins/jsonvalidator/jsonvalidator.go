package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/correomqtt/pluginhost/api"
	"github.com/xeipuuv/gojsonschema"
)

// configSchema is the JSON Schema the validator configuration must satisfy
const configSchema = `{
	"type": "object",
	"properties": {
		"schema":  {"type": "string", "minLength": 2},
		"tooltip": {"type": "string"}
	},
	"required": ["schema"]
}`

// JSONValidatorPlugin validates message payloads against a JSON Schema
type JSONValidatorPlugin struct {
	logger    api.Logger
	validator *SchemaValidator
}

// ValidatorConfig configures a schema validator
type ValidatorConfig struct {
	Schema  string `toml:"schema"`  // JSON Schema document
	Tooltip string `toml:"tooltip"` // shown next to valid payloads
}

// SchemaValidator checks that payloads are JSON documents matching a schema
type SchemaValidator struct {
	mutex   sync.RWMutex
	schema  *gojsonschema.Schema
	tooltip string
	err     error
}

// NewPlugin creates a new JSON validator plugin instance
func NewPlugin() api.Plugin {
	return &JSONValidatorPlugin{
		validator: &SchemaValidator{err: fmt.Errorf("no schema configured")},
	}
}

// Meta returns plugin metadata
func (p *JSONValidatorPlugin) Meta() api.PluginMeta {
	return api.PluginMeta{
		ID:          "json-validator",
		DisplayName: "JSON Schema Validator",
		Provider:    "CorreoMQTT",
		Repository:  "https://github.com/correomqtt/pluginhost",
		Description: "Validates published payloads against a JSON Schema",
		Version:     "1.0.0",
		APIVersion:  api.APIVersionCurrent,
	}
}

// Initialize initializes the plugin
func (p *JSONValidatorPlugin) Initialize(core api.CoreAPI) error {
	p.logger = core.GetLogger("json-validator")
	p.logger.Info("JSON validator initialized")
	return nil
}

// Shutdown shuts down the plugin
func (p *JSONValidatorPlugin) Shutdown() error {
	return nil
}

// RegisterExtensions returns the extensions provided by this plugin
func (p *JSONValidatorPlugin) RegisterExtensions() []api.ExtensionDefinition {
	return []api.ExtensionDefinition{
		{Capability: api.CapabilityMessageValidator, Extension: p.validator},
	}
}

func (v *SchemaValidator) NewConfig() interface{} {
	return &ValidatorConfig{}
}

func (v *SchemaValidator) ConfigSchema() string {
	return configSchema
}

// OnConfigReceived compiles the configured schema. An invalid schema makes
// every payload invalid until a working configuration arrives.
func (v *SchemaValidator) OnConfigReceived(config interface{}) {
	cfg, ok := config.(*ValidatorConfig)
	if !ok {
		return
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(cfg.Schema))

	v.mutex.Lock()
	defer v.mutex.Unlock()
	v.tooltip = cfg.Tooltip
	if err != nil {
		v.schema = nil
		v.err = fmt.Errorf("invalid schema: %w", err)
		return
	}
	v.schema = schema
	v.err = nil
}

// Validate checks payload against the configured schema
func (v *SchemaValidator) Validate(topic, payload string) api.Validation {
	v.mutex.RLock()
	schema, tooltip, configErr := v.schema, v.tooltip, v.err
	v.mutex.RUnlock()

	if configErr != nil {
		return api.Validation{Valid: false, Tooltip: configErr.Error()}
	}
	if !json.Valid([]byte(payload)) {
		return api.Validation{Valid: false, Tooltip: "payload is not valid JSON"}
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(payload))
	if err != nil {
		return api.Validation{Valid: false, Tooltip: err.Error()}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return api.Validation{Valid: false, Tooltip: strings.Join(problems, "\n")}
	}
	return api.Validation{Valid: true, Tooltip: tooltip}
}

func main() {}
