package api

import "time"

// Qos is the MQTT quality of service level.
type Qos int

const (
	QosAtMostOnce Qos = iota
	QosAtLeastOnce
	QosExactlyOnce
)

// Message is the view of an MQTT message handed to message hooks.
type Message struct {
	MessageID string    `json:"message_id"`
	Topic     string    `json:"topic"`
	Payload   string    `json:"payload"`
	Qos       Qos       `json:"qos"`
	Retained  bool      `json:"retained"`
	DateTime  time.Time `json:"date_time"`
	// Subscription is the filter that matched an incoming message, empty for outgoing ones.
	Subscription string `json:"subscription,omitempty"`
}

// OutgoingMessageHook sees every message before it is published. Returning a
// nil message rejects it.
type OutgoingMessageHook interface {
	OnMessageOutgoing(connectionID string, msg *Message) (*Message, error)
}

// IncomingMessageHook sees every message received on a subscription.
// Returning a nil message rejects it.
type IncomingMessageHook interface {
	OnMessageIncoming(connectionID string, msg *Message) (*Message, error)
}

// MessageListEntry is the decoration state of one row in the message list.
type MessageListEntry struct {
	Labels []string
}

// AddLabel appends a label to the entry.
func (e *MessageListEntry) AddLabel(label string) {
	e.Labels = append(e.Labels, label)
}

// MessageListHook decorates message list entries.
type MessageListHook interface {
	OnCreateEntry(msg Message, entry *MessageListEntry)
}

// Validation is the verdict of a message validator.
type Validation struct {
	Valid   bool   `json:"valid"`
	Tooltip string `json:"tooltip,omitempty"`
}

// MessageValidatorHook validates payloads published on a configured topic.
type MessageValidatorHook interface {
	Validate(topic, payload string) Validation
}

// DetailViewContext is the content shown in the message detail view.
// Manipulators rewrite it in place.
type DetailViewContext struct {
	Topic   string
	Payload []byte
}

// DetailViewManipulatorHook transforms the detail view content.
type DetailViewManipulatorHook interface {
	Manipulate(ctx *DetailViewContext) error
}

// LwtConnection carries the Last-Will-and-Testament settings of a connection.
type LwtConnection struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Lwt          bool                   `json:"lwt"`
	LwtTopic     string                 `json:"lwt_topic"`
	LwtQos       Qos                    `json:"lwt_qos"`
	LwtRetained  bool                   `json:"lwt_retained"`
	LwtPayload   string                 `json:"lwt_payload"`
	CustomFields map[string]interface{} `json:"custom_fields,omitempty"`
}

// LwtSettingsHook takes part in loading, showing, saving and unloading the
// LWT settings of a connection.
type LwtSettingsHook interface {
	OnLoadConnection(conn LwtConnection) LwtConnection
	OnShowConnection(conn LwtConnection) LwtConnection
	OnSaveConnection(conn LwtConnection) LwtConnection
	OnUnloadConnection(conn LwtConnection) LwtConnection
}

// KeyringHook is a credential store backend.
type KeyringHook interface {
	Identifier() string
	IsSupported() bool
	GetPassword(label string) (string, error)
	SetPassword(label, password string) error
}

// Accepts reports whether ext implements the hook interface of c.
func (c Capability) Accepts(ext interface{}) bool {
	switch c {
	case CapabilityOutgoingMessage:
		_, ok := ext.(OutgoingMessageHook)
		return ok
	case CapabilityIncomingMessage:
		_, ok := ext.(IncomingMessageHook)
		return ok
	case CapabilityMessageList:
		_, ok := ext.(MessageListHook)
		return ok
	case CapabilityMessageValidator:
		_, ok := ext.(MessageValidatorHook)
		return ok
	case CapabilityDetailViewManipulator:
		_, ok := ext.(DetailViewManipulatorHook)
		return ok
	case CapabilityLwtSettings:
		_, ok := ext.(LwtSettingsHook)
		return ok
	case CapabilityKeyring:
		_, ok := ext.(KeyringHook)
		return ok
	}
	return false
}
