package main

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/correomqtt/pluginhost/api"
)

// Base64Plugin encodes and decodes base64 payloads
type Base64Plugin struct {
	logger   api.Logger
	outgoing *Encoder
	incoming *Decoder
}

// CodecConfig selects the topics a message hook applies to
type CodecConfig struct {
	Topics  []string `toml:"topics"` // topic prefixes, empty matches every topic
	URLSafe bool     `toml:"url_safe"`
}

// Encoder base64-encodes outgoing payloads
type Encoder struct {
	mutex  sync.RWMutex
	config CodecConfig
}

// Decoder base64-decodes incoming payloads; payloads that are not base64 pass unchanged
type Decoder struct {
	mutex  sync.RWMutex
	config CodecConfig
}

// DetailDecode shows a base64 payload decoded in the detail view
type DetailDecode struct{}

// DetailEncode shows the payload base64-encoded in the detail view
type DetailEncode struct{}

// NewPlugin creates a new base64 plugin instance
func NewPlugin() api.Plugin {
	return &Base64Plugin{
		outgoing: &Encoder{},
		incoming: &Decoder{},
	}
}

// Meta returns plugin metadata
func (p *Base64Plugin) Meta() api.PluginMeta {
	return api.PluginMeta{
		ID:          "base64",
		DisplayName: "Base64 Codec",
		Provider:    "CorreoMQTT",
		Repository:  "https://github.com/correomqtt/pluginhost",
		Description: "Base64 encoding for published messages and the detail view",
		Version:     "1.0.0",
		APIVersion:  api.APIVersionCurrent,
	}
}

// Initialize initializes the plugin
func (p *Base64Plugin) Initialize(core api.CoreAPI) error {
	p.logger = core.GetLogger("base64")
	return nil
}

// Shutdown shuts down the plugin
func (p *Base64Plugin) Shutdown() error {
	return nil
}

// RegisterExtensions returns the extensions provided by this plugin
func (p *Base64Plugin) RegisterExtensions() []api.ExtensionDefinition {
	return []api.ExtensionDefinition{
		{Capability: api.CapabilityOutgoingMessage, Extension: p.outgoing},
		{Capability: api.CapabilityIncomingMessage, Extension: p.incoming},
		{Capability: api.CapabilityDetailViewManipulator, ID: "decode", Extension: DetailDecode{}},
		{Capability: api.CapabilityDetailViewManipulator, ID: "encode", Extension: DetailEncode{}},
	}
}

func (e *Encoder) NewConfig() interface{} { return &CodecConfig{} }

func (e *Encoder) OnConfigReceived(config interface{}) {
	if cfg, ok := config.(*CodecConfig); ok {
		e.mutex.Lock()
		e.config = *cfg
		e.mutex.Unlock()
	}
}

// OnMessageOutgoing encodes the payload of matching messages
func (e *Encoder) OnMessageOutgoing(connectionID string, msg *api.Message) (*api.Message, error) {
	e.mutex.RLock()
	cfg := e.config
	e.mutex.RUnlock()

	if !cfg.matches(msg.Topic) {
		return msg, nil
	}
	encoded := *msg
	encoded.Payload = cfg.encoding().EncodeToString([]byte(msg.Payload))
	return &encoded, nil
}

func (d *Decoder) NewConfig() interface{} { return &CodecConfig{} }

func (d *Decoder) OnConfigReceived(config interface{}) {
	if cfg, ok := config.(*CodecConfig); ok {
		d.mutex.Lock()
		d.config = *cfg
		d.mutex.Unlock()
	}
}

// OnMessageIncoming decodes the payload of matching messages
func (d *Decoder) OnMessageIncoming(connectionID string, msg *api.Message) (*api.Message, error) {
	d.mutex.RLock()
	cfg := d.config
	d.mutex.RUnlock()

	if !cfg.matches(msg.Topic) {
		return msg, nil
	}
	raw, err := cfg.encoding().DecodeString(strings.TrimSpace(msg.Payload))
	if err != nil {
		return msg, nil
	}
	decoded := *msg
	decoded.Payload = string(raw)
	return &decoded, nil
}

// Manipulate replaces the payload with its decoded form
func (DetailDecode) Manipulate(ctx *api.DetailViewContext) error {
	text := strings.TrimSpace(string(ctx.Payload))
	raw, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		if raw, err = base64.URLEncoding.DecodeString(text); err != nil {
			return fmt.Errorf("payload is not base64: %w", err)
		}
	}
	ctx.Payload = raw
	return nil
}

// Manipulate replaces the payload with its encoded form
func (DetailEncode) Manipulate(ctx *api.DetailViewContext) error {
	ctx.Payload = []byte(base64.StdEncoding.EncodeToString(ctx.Payload))
	return nil
}

func (c CodecConfig) matches(topic string) bool {
	if len(c.Topics) == 0 {
		return true
	}
	for _, prefix := range c.Topics {
		if strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

func (c CodecConfig) encoding() *base64.Encoding {
	if c.URLSafe {
		return base64.URLEncoding
	}
	return base64.StdEncoding
}

func main() {}
