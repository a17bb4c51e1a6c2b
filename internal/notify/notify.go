// Package notify carries committed state changes out of the engines.
// Delivery is best effort: a notifier never reports failure to its caller
// and engines only notify after their transaction has committed.
package notify

import (
	"context"
	"sync"
)

// Event describes one committed change, scoped to a family.
type Event struct {
	FamilyID int64
	// DependentID is set when the change concerns one dependent.
	DependentID int64
	Entity      string
	Action      string
	ID          int64
	Extra       map[string]any
}

type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Recorder keeps events in memory. Tests use it to assert what was sent.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
