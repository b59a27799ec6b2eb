// Package inject delivers configured payloads to extensions.
package inject

import (
	"bytes"
	"fmt"
	"reflect"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/correomqtt/pluginhost/api"
	"github.com/correomqtt/pluginhost/core/extension"
	"github.com/xeipuuv/gojsonschema"
)

// Injector decodes raw configuration payloads into the configuration type an
// extension declares and hands the result to the extension. Failures are
// logged and never returned.
type Injector struct {
	logger api.Logger

	mutex   sync.Mutex
	schemas map[string]*gojsonschema.Schema
}

// NewInjector creates a new injector
func NewInjector(logger api.Logger) *Injector {
	return &Injector{
		logger:  logger,
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Inject delivers raw to the extension behind handle. Extensions without a
// declared configuration type are left alone. An empty or nil raw payload
// still results in a call to OnConfigReceived with a zero-valued config.
func (i *Injector) Inject(handle extension.Handle, raw map[string]interface{}) {
	configurable, ok := handle.Extension.(api.Configurable)
	if !ok {
		return
	}

	config, err := i.decode(configurable, raw)
	if err != nil {
		i.logger.Warn("Failed to apply plugin configuration",
			"extension", handle.String(), "error", err)
		return
	}

	configurable.OnConfigReceived(config)
}

// InjectValue hands an already typed configuration to the extension
func (i *Injector) InjectValue(handle extension.Handle, config interface{}) {
	configurable, ok := handle.Extension.(api.Configurable)
	if !ok {
		return
	}
	configurable.OnConfigReceived(config)
}

func (i *Injector) decode(configurable api.Configurable, raw map[string]interface{}) (interface{}, error) {
	config := configurable.NewConfig()
	if config == nil {
		return nil, fmt.Errorf("extension declared a nil configuration type")
	}
	if rv := reflect.ValueOf(config); rv.Kind() != reflect.Ptr || rv.IsNil() {
		return nil, fmt.Errorf("configuration type %T must be a non-nil pointer", config)
	}

	if provider, ok := configurable.(api.ConfigSchemaProvider); ok {
		if err := i.validate(provider.ConfigSchema(), raw); err != nil {
			return nil, err
		}
	}

	if len(raw) == 0 {
		return config, nil
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := toml.Unmarshal(buf.Bytes(), config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration into %T: %w", config, err)
	}
	return config, nil
}

func (i *Injector) validate(schemaText string, raw map[string]interface{}) error {
	if schemaText == "" {
		return nil
	}

	schema, err := i.schema(schemaText)
	if err != nil {
		return fmt.Errorf("invalid configuration schema: %w", err)
	}

	document := raw
	if document == nil {
		document = map[string]interface{}{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("failed to validate configuration: %w", err)
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		errs = append(errs, e.String())
	}
	return fmt.Errorf("configuration does not match schema: %v", errs)
}

// schema compiles each distinct schema text once
func (i *Injector) schema(text string) (*gojsonschema.Schema, error) {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if schema, ok := i.schemas[text]; ok {
		return schema, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
	if err != nil {
		return nil, err
	}
	i.schemas[text] = schema
	return schema, nil
}
