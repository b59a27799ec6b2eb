package eventbus

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/correomqtt/pluginhost/api"
	"github.com/google/uuid"
)

// EventBus distributes lifecycle events to in-process subscribers. Handlers
// run on their own goroutine so emitters never block on them.
type EventBus struct {
	subscribers []subscription
	mutex       sync.RWMutex
	logger      api.Logger
	pending     sync.WaitGroup
	closed      bool
}

type subscription struct {
	filter  api.EventFilter
	handler api.EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus(logger api.Logger) *EventBus {
	return &EventBus{
		subscribers: make([]subscription, 0),
		logger:      logger,
	}
}

// Close stops delivery and waits for running handlers
func (eb *EventBus) Close() {
	eb.mutex.Lock()
	eb.closed = true
	eb.mutex.Unlock()

	eb.pending.Wait()
	eb.logger.Debug("EventBus stopped")
}

// EmitEvent emits an event to all subscribers
func (eb *EventBus) EmitEvent(event api.Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type cannot be empty")
	}

	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	if eb.closed {
		return fmt.Errorf("event bus is closed")
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, sub := range eb.subscribers {
		if eb.matchesFilter(event, sub.filter) {
			eb.pending.Add(1)
			go func(handler api.EventHandler) {
				defer eb.pending.Done()
				if err := handler(event); err != nil {
					eb.logger.Error("Event handler failed", "error", err, "event_id", event.ID, "type", event.Type)
				}
			}(sub.handler)
		}
	}

	return nil
}

// SubscribeToEvents subscribes to events matching the given filter
func (eb *EventBus) SubscribeToEvents(filter api.EventFilter, handler api.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	for field, pattern := range filter.Regex {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("invalid regex for %s: %w", field, err)
		}
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	eb.subscribers = append(eb.subscribers, subscription{
		filter:  filter,
		handler: handler,
	})

	eb.logger.Debug("New event subscription added", "filter", filter)
	return nil
}

// matchesFilter checks if an event matches the given filter
func (eb *EventBus) matchesFilter(event api.Event, filter api.EventFilter) bool {
	if len(filter.Sources) > 0 && !contains(filter.Sources, event.Source) {
		return false
	}
	if len(filter.Types) > 0 && !contains(filter.Types, event.Type) {
		return false
	}

	for field, pattern := range filter.Regex {
		var fieldValue string

		switch field {
		case "source":
			fieldValue = event.Source
		case "type":
			fieldValue = event.Type
		default:
			// Check in payload
			if val, exists := event.Payload[field]; exists {
				fieldValue = fmt.Sprintf("%v", val)
			}
		}

		matched, err := regexp.MatchString(pattern, fieldValue)
		if err != nil {
			eb.logger.Error("Invalid regex pattern", "pattern", pattern, "error", err)
			return false
		}
		if !matched {
			return false
		}
	}

	return true
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
