// Package notify delivers entity change notifications to interested parties:
// a message publisher for other services and an in-process notifier for
// real-time subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventType names the kind of change an Event reports.
type EventType string

const (
	EntityCreated EventType = "created"
	EntityUpdated EventType = "updated"
	EntityDeleted EventType = "deleted"
	EntityClaimed EventType = "claimed"
	EntityReset   EventType = "reset"
)

// Event describes one change to the entity store.
type Event struct {
	Type        EventType `json:"type"`
	EntityType  string    `json:"entityType"`
	EntityID    string    `json:"entityId,omitempty"`
	Environment string    `json:"environment,omitempty"`
	Count       int64     `json:"count,omitempty"`
	Entity      any       `json:"entity,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Topic returns the publisher topic for the event, e.g. "entities.Product.created".
func (e Event) Topic() string {
	return fmt.Sprintf("entities.%s.%s", e.EntityType, e.Type)
}

// Payload encodes the event for publishing.
func (e Event) Payload() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher sends an encoded message to a topic on a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Notifier pushes an event to real-time subscribers.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop discards everything. It satisfies both Publisher and Notifier.
type Nop struct{}

func (Nop) Publish(context.Context, string, []byte) error { return nil }
func (Nop) Notify(context.Context, Event) error { return nil }
