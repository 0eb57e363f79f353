package evaluation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adityaaa08012006/decivue-sub006/decisions"
	"github.com/adityaaa08012006/decivue-sub006/internal/logger"
)

// EventType names a domain event
type EventType string

const (
	EventAssumptionChanged EventType = "assumption.changed"
	EventDependencyChanged EventType = "dependency.changed"
	EventDecisionRescored  EventType = "decision.rescored"
)

// Event is the envelope delivered to subscribers. Exactly one payload is
// set, matching Type.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	TenantID   string    `json:"tenantId"`
	OccurredAt time.Time `json:"occurredAt"`

	AssumptionChanged *AssumptionChanged `json:"assumptionChanged,omitempty"`
	DependencyChanged *DependencyChanged `json:"dependencyChanged,omitempty"`
	DecisionRescored  *DecisionRescored  `json:"decisionRescored,omitempty"`
}

// AssumptionChanged is emitted when an assumption's status or scope changes
type AssumptionChanged struct {
	AssumptionID string                     `json:"assumptionId"`
	Scope        decisions.AssumptionScope  `json:"scope"`
	OldStatus    decisions.AssumptionStatus `json:"oldStatus"`
	NewStatus    decisions.AssumptionStatus `json:"newStatus"`
}

// DependencyChanged is emitted when a decision that others depend on changed
// outside of an evaluation run
type DependencyChanged struct {
	DecisionID string `json:"decisionId"`
}

// DecisionRescored is emitted after a verdict has been persisted
type DecisionRescored struct {
	DecisionID      string              `json:"decisionId"`
	ChangesDetected bool                `json:"changesDetected"`
	OldLifecycle    decisions.Lifecycle `json:"oldLifecycle"`
	NewLifecycle    decisions.Lifecycle `json:"newLifecycle"`
	OldHealth       int                 `json:"oldHealth"`
	NewHealth       int                 `json:"newHealth"`
}

func newEvent(t EventType, tenantID string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		TenantID:   tenantID,
		OccurredAt: at.UTC(),
	}
}

// NewAssumptionChanged builds an assumption change event
func NewAssumptionChanged(tenantID string, p AssumptionChanged, at time.Time) Event {
	e := newEvent(EventAssumptionChanged, tenantID, at)
	e.AssumptionChanged = &p
	return e
}

// NewDependencyChanged builds a dependency target change event
func NewDependencyChanged(tenantID, decisionID string, at time.Time) Event {
	e := newEvent(EventDependencyChanged, tenantID, at)
	e.DependencyChanged = &DependencyChanged{DecisionID: decisionID}
	return e
}

// NewDecisionRescored builds a rescored event
func NewDecisionRescored(tenantID string, p DecisionRescored, at time.Time) Event {
	e := newEvent(EventDecisionRescored, tenantID, at)
	e.DecisionRescored = &p
	return e
}

// Handler consumes one event. A returned error is logged by the bus and does
// not reach the publisher.
type Handler func(ctx context.Context, e Event) error

// Publisher emits events
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Bus is a synchronous in-process event bus. Handlers run in subscription
// order on the publisher's goroutine, so a publish returns only after every
// consequence (e.g. dirty marks) has been applied.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h for every event of type t
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish delivers e to its subscribers
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[e.Type]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			logger.Error("event handler failed",
				"event_id", e.ID,
				"event_type", e.Type,
				"tenant_id", e.TenantID,
				"err", err,
			)
		}
	}
}
