package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// awaiterSlot is a one-shot completion primitive: the channel is
// buffered with capacity 1 so resolveAll never blocks on a slow or
// abandoned waiter.
type awaiterSlot struct {
	id string
	ch chan Event
}

// awaiterTable is the pending-waiters side of wait-for: event type ->
// list of one-shot slots. Every slot is removed on resolution, timeout,
// or cancellation, so the table never grows past the number of waiters
// actually in flight.
type awaiterTable struct {
	mu    sync.Mutex
	slots map[string][]*awaiterSlot
}

func newAwaiterTable() *awaiterTable {
	return &awaiterTable{slots: make(map[string][]*awaiterSlot)}
}

func (a *awaiterTable) add(eventType string) *awaiterSlot {
	slot := &awaiterSlot{id: uuid.NewString(), ch: make(chan Event, 1)}
	a.mu.Lock()
	a.slots[eventType] = append(a.slots[eventType], slot)
	a.mu.Unlock()
	return slot
}

// remove drops slot from eventType's list if still present. Safe to call
// more than once.
func (a *awaiterTable) remove(eventType string, slot *awaiterSlot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	list := a.slots[eventType]
	for i, s := range list {
		if s == slot {
			a.slots[eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// count returns the total number of pending waiters across every event
// type.
func (a *awaiterTable) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, list := range a.slots {
		n += len(list)
	}
	return n
}

// resolveAll completes and removes every pending slot for eventType with
// ev. Called after handler dispatch for the triggering Emit has run, so
// a waiter only ever observes an event once every synchronous handler
// has already seen it.
func (a *awaiterTable) resolveAll(eventType string, ev Event) {
	a.mu.Lock()
	list := a.slots[eventType]
	delete(a.slots, eventType)
	a.mu.Unlock()
	for _, s := range list {
		s.ch <- ev
	}
}

// waitFor allocates a slot, suspends until it resolves, the timeout
// elapses, or ctx is cancelled, and in every case removes the slot from
// the table before returning.
//
// timeout < 0 means wait indefinitely (bounded only by ctx); timeout ==
// 0 is a valid, immediate deadline; timeout > 0 is a normal deadline.
func (a *awaiterTable) waitFor(ctx context.Context, eventType string, timeout time.Duration) (Event, error) {
	slot := a.add(eventType)
	defer a.remove(eventType, slot)

	var timeoutCh <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case ev := <-slot.ch:
		return ev, nil
	case <-timeoutCh:
		return Event{}, ErrWaitTimeout
	case <-ctx.Done():
		return Event{}, ErrWaitCancelled
	}
}
