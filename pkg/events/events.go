package events

import (
	"sync"
	"time"

	"github.com/ylcn91/agentctl/pkg/log"
)

// Kind identifies a lifecycle event. The set is closed.
type Kind string

const (
	TaskCreated       Kind = "TASK_CREATED"
	TaskAssigned      Kind = "TASK_ASSIGNED"
	TaskStarted       Kind = "TASK_STARTED"
	CheckpointReached Kind = "CHECKPOINT_REACHED"
	TaskCompleted     Kind = "TASK_COMPLETED"
	TaskVerified      Kind = "TASK_VERIFIED"
	ProgressUpdate    Kind = "PROGRESS_UPDATE"
	DelegationChain   Kind = "DELEGATION_CHAIN"
	TrustUpdate       Kind = "TRUST_UPDATE"
	SLAWarning        Kind = "SLA_WARNING"
	SLABreach         Kind = "SLA_BREACH"
	Reassignment      Kind = "REASSIGNMENT"
)

// Event is one lifecycle notification.
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Account   string
	TaskID    string
	Payload   map[string]any
}

// Handler consumes events of a subscribed kind.
type Handler func(Event)

// Bus is the in-process event bus. Emit dispatches synchronously to the
// handlers registered for the event's kind, in registration order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// Subscribe registers handler for kind. Handlers run in registration order.
func (b *Bus) Subscribe(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Emit delivers event to every subscriber of its kind. A panicking handler
// is logged and skipped; the remaining handlers still run.
func (b *Bus) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers[event.Kind]
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(event, h)
	}
}

func (b *Bus) dispatch(event Event, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			lg := log.WithComponent("events")
			lg.Error().
				Str("kind", string(event.Kind)).
				Interface("panic", r).
				Msg("event subscriber panicked")
		}
	}()
	h(event)
}

// SubscriberCount returns the number of handlers registered for kind.
func (b *Bus) SubscriberCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}
