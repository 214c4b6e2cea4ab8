package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/asaidimu/anansi-fixtures/core"
	"github.com/asaidimu/go-events"
	"github.com/google/uuid"
)

// PersistenceEventType defines the possible event types for persistence operations.
type PersistenceEventType string

const (
	DocumentCreateStart     PersistenceEventType = "document:create:start"
	DocumentCreateSuccess   PersistenceEventType = "document:create:success"
	DocumentCreateFailed    PersistenceEventType = "document:create:failed"
	DocumentReadStart       PersistenceEventType = "document:read:start"
	DocumentReadSuccess     PersistenceEventType = "document:read:success"
	DocumentReadFailed      PersistenceEventType = "document:read:failed"
	DocumentUpdateStart     PersistenceEventType = "document:update:start"
	DocumentUpdateSuccess   PersistenceEventType = "document:update:success"
	DocumentUpdateFailed    PersistenceEventType = "document:update:failed"
	DocumentDeleteStart     PersistenceEventType = "document:delete:start"
	DocumentDeleteSuccess   PersistenceEventType = "document:delete:success"
	DocumentDeleteFailed    PersistenceEventType = "document:delete:failed"
	DocumentClaimStart      PersistenceEventType = "document:claim:start"
	DocumentClaimSuccess    PersistenceEventType = "document:claim:success"
	DocumentClaimFailed     PersistenceEventType = "document:claim:failed"
	SchemaRegisterSuccess   PersistenceEventType = "schema:register:success"
	SchemaUpdateSuccess     PersistenceEventType = "schema:update:success"
	SchemaDeleteSuccess     PersistenceEventType = "schema:delete:success"
	CollectionDeleteSuccess PersistenceEventType = "collection:delete:success"
)

// PersistenceEvent represents events emitted during persistence operations.
type PersistenceEvent struct {
	Type       PersistenceEventType `json:"type"`
	Timestamp  int64                `json:"timestamp"` // Unix milliseconds.
	Operation  string               `json:"operation"`
	Collection *string              `json:"collection,omitempty"`
	Input      any                  `json:"input,omitempty"`
	Output     any                  `json:"output,omitempty"`
	Error      *string              `json:"error,omitempty"`
	Issues     []core.Issue         `json:"issues,omitempty"`
	Query      any                  `json:"query,omitempty"`
	Duration   *int64               `json:"duration,omitempty"` // Milliseconds.
}

type EventCallbackFunction func(ctx context.Context, event PersistenceEvent) error

// RegisterSubscriptionOptions describes a subscription to register.
type RegisterSubscriptionOptions struct {
	Event       PersistenceEventType
	Label       *string
	Description *string
	Callback    EventCallbackFunction
}

// SubscriptionInfo describes a subscription configuration.
type SubscriptionInfo struct {
	Id          *string              `json:"id"`
	Event       PersistenceEventType `json:"event"`
	Label       *string              `json:"label,omitempty"`
	Description *string              `json:"description,omitempty"`
	Unsubscribe func()               `json:"-"`
}

// EventHub fans persistence events out to registered subscribers. A Registry
// and a Repository built over the same hub report to the same subscribers.
type EventHub struct {
	bus           *events.TypedEventBus[PersistenceEvent]
	subscriptions map[string]*SubscriptionInfo
	subMu         sync.RWMutex
}

// NewEventHub initializes the underlying event bus.
func NewEventHub() (*EventHub, error) {
	bus, err := events.NewTypedEventBus[PersistenceEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}
	return &EventHub{
		bus:           bus,
		subscriptions: make(map[string]*SubscriptionInfo),
	}, nil
}

// RegisterSubscription registers a callback for a specific persistence event. It returns
// a unique ID that can be used to unregister the subscription later.
func (h *EventHub) RegisterSubscription(options RegisterSubscriptionOptions) string {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	unsubscribe := h.bus.Subscribe(string(options.Event), options.Callback)
	id := uuid.New().String()

	h.subscriptions[id] = &SubscriptionInfo{
		Id:          &id,
		Event:       options.Event,
		Unsubscribe: unsubscribe,
		Label:       options.Label,
		Description: options.Description,
	}
	return id
}

// UnregisterSubscription removes a subscription by its ID.
func (h *EventHub) UnregisterSubscription(id string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	if info, ok := h.subscriptions[id]; ok {
		info.Unsubscribe()
		delete(h.subscriptions, id)
	}
}

// Subscriptions returns every active subscription ordered by event.
func (h *EventHub) Subscriptions() []SubscriptionInfo {
	h.subMu.RLock()
	defer h.subMu.RUnlock()

	out := make([]SubscriptionInfo, 0, len(h.subscriptions))
	for _, info := range h.subscriptions {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Event != out[j].Event {
			return out[i].Event < out[j].Event
		}
		return *out[i].Id < *out[j].Id
	})
	return out
}

func (h *EventHub) emit(event PersistenceEvent) {
	if h != nil && h.bus != nil {
		h.bus.Emit(string(event.Type), event)
	}
}

func createEvent(
	eventType PersistenceEventType,
	operation string,
	collectionName string,
	input any,
	output any,
	query any,
	err error,
	startTime time.Time,
) PersistenceEvent {
	var duration *int64
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		duration = &d
	}

	event := PersistenceEvent{
		Type:       eventType,
		Timestamp:  time.Now().UnixMilli(),
		Operation:  operation,
		Collection: &collectionName,
		Input:      input,
		Output:     output,
		Query:      query,
		Duration:   duration,
	}
	if err != nil {
		msg := err.Error()
		event.Error = &msg
		var verr *core.ValidationError
		if errors.As(err, &verr) {
			event.Issues = verr.Issues
		}
	}
	return event
}

// eventTypes groups the start, success and failure events of one operation.
type eventTypes struct {
	start, success, failed PersistenceEventType
}

var (
	createEvents = eventTypes{DocumentCreateStart, DocumentCreateSuccess, DocumentCreateFailed}
	readEvents   = eventTypes{DocumentReadStart, DocumentReadSuccess, DocumentReadFailed}
	updateEvents = eventTypes{DocumentUpdateStart, DocumentUpdateSuccess, DocumentUpdateFailed}
	deleteEvents = eventTypes{DocumentDeleteStart, DocumentDeleteSuccess, DocumentDeleteFailed}
	claimEvents  = eventTypes{DocumentClaimStart, DocumentClaimSuccess, DocumentClaimFailed}
)

// withEventEmission wraps an operation with start, success, and failure events.
func withEventEmission[T any](
	hub *EventHub,
	operation string,
	collection string,
	types eventTypes,
	input any,
	queryParam any,
	fn func() (T, error),
) (T, error) {
	if hub == nil {
		return fn()
	}

	startTime := time.Now()
	hub.emit(createEvent(types.start, operation, collection, input, nil, queryParam, nil, startTime))

	result, err := fn()
	if err != nil {
		hub.emit(createEvent(types.failed, operation, collection, input, nil, queryParam, err, startTime))
		return result, err
	}

	hub.emit(createEvent(types.success, operation, collection, input, result, queryParam, nil, startTime))
	return result, nil
}
