package events

import (
	"testing"
)

// TestEmitOrder verifies handlers run in registration order.
func TestEmitOrder(t *testing.T) {
	bus := NewBus()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe(TaskCreated, func(Event) { order = append(order, i) })
	}

	bus.Emit(Event{Kind: TaskCreated, TaskID: "t1"})

	if len(order) != 3 {
		t.Fatalf("ran %d handlers, want 3", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Errorf("position %d ran handler %d", i, got)
		}
	}
}

// TestEmitKindIsolation verifies handlers only see their subscribed kind.
func TestEmitKindIsolation(t *testing.T) {
	bus := NewBus()
	var fired bool
	bus.Subscribe(TaskCompleted, func(Event) { fired = true })

	bus.Emit(Event{Kind: TaskStarted})
	if fired {
		t.Error("TaskCompleted handler fired for TaskStarted")
	}

	bus.Emit(Event{Kind: TaskCompleted})
	if !fired {
		t.Error("TaskCompleted handler did not fire")
	}
}

// TestEmitPanicIsolation verifies a panicking handler does not stop the rest.
func TestEmitPanicIsolation(t *testing.T) {
	bus := NewBus()
	var after bool
	bus.Subscribe(TrustUpdate, func(Event) { panic("boom") })
	bus.Subscribe(TrustUpdate, func(Event) { after = true })

	bus.Emit(Event{Kind: TrustUpdate, Account: "alice"})

	if !after {
		t.Error("handler after the panicking one did not run")
	}
}

// TestEmitStampsTimestamp verifies a zero timestamp is filled in.
func TestEmitStampsTimestamp(t *testing.T) {
	bus := NewBus()
	var got Event
	bus.Subscribe(ProgressUpdate, func(e Event) { got = e })

	bus.Emit(Event{Kind: ProgressUpdate})

	if got.Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
}

// TestSubscriberCount tracks registrations per kind.
func TestSubscriberCount(t *testing.T) {
	bus := NewBus()
	if n := bus.SubscriberCount(SLAWarning); n != 0 {
		t.Errorf("empty bus count = %d", n)
	}
	bus.Subscribe(SLAWarning, func(Event) {})
	bus.Subscribe(SLAWarning, func(Event) {})
	if n := bus.SubscriberCount(SLAWarning); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}
