package hooks

import (
	"errors"
	"fmt"

	"github.com/correomqtt/pluginhost/api"
)

// ErrTaskNotFound is returned when a detail view task name is not configured
var ErrTaskNotFound = errors.New("detail view task not found")

// ApplyOutgoing runs msg through the outgoing message hooks in configuration
// order. A nil result means a hook rejected the message. A failing hook is
// logged and skipped. A nil msg is already rejected and reaches no hook.
func (a *Aggregator) ApplyOutgoing(connectionID string, msg *api.Message) *api.Message {
	if msg == nil {
		return nil
	}
	current := msg
	for _, hook := range a.OutgoingMessageHooks() {
		next, err := hook.OnMessageOutgoing(connectionID, current)
		if err != nil {
			a.logger.Warn("Outgoing message hook failed", "connection", connectionID, "topic", current.Topic, "error", err)
			continue
		}
		if next == nil {
			a.logger.Debug("Outgoing message rejected", "connection", connectionID, "topic", current.Topic)
			return nil
		}
		current = next
	}
	return current
}

// ApplyIncoming runs msg through the incoming message hooks in configuration
// order. A nil result means a hook rejected the message.
func (a *Aggregator) ApplyIncoming(connectionID string, msg *api.Message) *api.Message {
	if msg == nil {
		return nil
	}
	current := msg
	for _, hook := range a.IncomingMessageHooks() {
		next, err := hook.OnMessageIncoming(connectionID, current)
		if err != nil {
			a.logger.Warn("Incoming message hook failed", "connection", connectionID, "topic", current.Topic, "error", err)
			continue
		}
		if next == nil {
			a.logger.Debug("Incoming message rejected", "connection", connectionID, "topic", current.Topic)
			return nil
		}
		current = next
	}
	return current
}

// ValidateMessage asks the validators configured for topic. It returns nil
// when no validator is configured, the first invalid verdict if any, and the
// last valid verdict otherwise.
func (a *Aggregator) ValidateMessage(topic, payload string) *api.Validation {
	var verdict *api.Validation
	for _, validator := range a.MessageValidators(topic) {
		result := validator.Validate(topic, payload)
		if !result.Valid {
			return &result
		}
		verdict = &result
	}
	return verdict
}

// DecorateEntry lets every message list hook decorate entry
func (a *Aggregator) DecorateEntry(msg api.Message, entry *api.MessageListEntry) {
	for _, hook := range a.MessageListHooks() {
		hook.OnCreateEntry(msg, entry)
	}
}

// RunDetailViewTask applies the manipulators of the named task to ctx in
// order and stops at the first failure
func (a *Aggregator) RunDetailViewTask(name string, ctx *api.DetailViewContext) error {
	for _, task := range a.DetailViewTasks() {
		if task.Name != name {
			continue
		}
		for i, hook := range task.Hooks {
			if err := hook.Manipulate(ctx); err != nil {
				return fmt.Errorf("task %s step %d: %w", name, i+1, err)
			}
		}
		return nil
	}
	return fmt.Errorf("%s: %w", name, ErrTaskNotFound)
}
