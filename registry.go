package bus

import (
	"sync"

	"github.com/google/uuid"
)

// registry is the handler registry: event type -> ordered handler
// records. Order within a type reflects subscription order and is the
// dispatch order. The only discipline required in a multi-threaded host
// is snapshot-on-read: Emit copies the slice under lock, then iterates
// the copy without holding the lock, so subscribe/unsubscribe calls made
// from inside a handler (including a reentrant Emit) never deadlock and
// never corrupt the outer iteration.
type registry struct {
	mu       sync.RWMutex
	handlers map[string][]*handlerRecord
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string][]*handlerRecord)}
}

// add appends a new record for eventType and returns it.
func (r *registry) add(eventType string, h Handler, isOnce bool, owner string) *handlerRecord {
	rec := &handlerRecord{id: uuid.NewString(), handler: h, isOnce: isOnce, owner: owner}
	r.mu.Lock()
	r.handlers[eventType] = append(r.handlers[eventType], rec)
	r.mu.Unlock()
	return rec
}

// remove drops the record with the given id from eventType's list, if
// still present. It is safe to call more than once for the same id.
func (r *registry) remove(eventType, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.handlers[eventType]
	for i, rec := range list {
		if rec.id == id {
			r.handlers[eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// snapshot returns a defensive copy of the current handler list for
// eventType, safe to iterate without holding the registry lock.
func (r *registry) snapshot(eventType string) []*handlerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.handlers[eventType]
	if len(list) == 0 {
		return nil
	}
	out := make([]*handlerRecord, len(list))
	copy(out, list)
	return out
}

// removeOwner drops every record owned by owner, across every event
// type. Used by
// BaseModule.Destroy as a defensive sweep in addition to invoking its
// tracked unsubscribe tokens.
func (r *registry) removeOwner(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, list := range r.handlers {
		filtered := list[:0:0]
		for _, rec := range list {
			if rec.owner != owner {
				filtered = append(filtered, rec)
			}
		}
		r.handlers[t] = filtered
	}
}

// count returns the total number of live handler records across every
// event type.
func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, list := range r.handlers {
		n += len(list)
	}
	return n
}

// eventTypesFor returns the event types owner currently has at least one
// live subscription on, in no particular order.
func (r *registry) eventTypesFor(owner string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for t, list := range r.handlers {
		for _, rec := range list {
			if rec.owner == owner {
				out = append(out, t)
				break
			}
		}
	}
	return out
}
