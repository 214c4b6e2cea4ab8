package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/asaidimu/go-events"
	"go.uber.org/zap"
)

// AllEvents is the hub channel every event is also delivered on.
const AllEvents = "*"

// Hub is an in-process Notifier. Subscribers register for one entity type
// or for AllEvents.
type Hub struct {
	bus    *events.TypedEventBus[Event]
	logger *zap.Logger
	mu     sync.Mutex
	subs   int
}

// NewHub initializes the hub's event bus.
func NewHub(logger *zap.Logger) (*Hub, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus, err := events.NewTypedEventBus[Event](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}
	return &Hub{bus: bus, logger: logger}, nil
}

// Notify delivers event to subscribers of its entity type and of AllEvents.
func (h *Hub) Notify(ctx context.Context, event Event) error {
	h.bus.Emit(event.EntityType, event)
	h.bus.Emit(AllEvents, event)
	h.logger.Debug("Notified subscribers", zap.String("topic", event.Topic()))
	return nil
}

// Subscribe registers fn for events of entityType, or every event when
// entityType is AllEvents. The returned function removes the subscription.
func (h *Hub) Subscribe(entityType string, fn func(ctx context.Context, event Event) error) func() {
	unsubscribe := h.bus.Subscribe(entityType, fn)
	h.mu.Lock()
	h.subs++
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			h.mu.Lock()
			h.subs--
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs
}
