package bus

import "context"

// SyncHandler is invoked immediately and in-line with Emit: the emitting
// call blocks until it returns.
type SyncHandler func(Event)

// AsyncHandler is scheduled on the broker's Scheduler; Emit does not wait
// for it to complete. Its error (if any) is logged at warning level and
// never surfaces to the emitter.
type AsyncHandler func(context.Context, Event) error

// Handler is the tagged union of subscription kinds a caller may pass to
// Subscribe/SubscribeOnce. Construct one with Sync or Async; the zero
// value is invalid and rejected with ErrHandlerNil.
type Handler struct {
	sync  SyncHandler
	async AsyncHandler
}

// Sync wraps fn as a synchronous Handler.
func Sync(fn SyncHandler) Handler {
	return Handler{sync: fn}
}

// Async wraps fn as an asynchronous Handler.
func Async(fn AsyncHandler) Handler {
	return Handler{async: fn}
}

func (h Handler) isZero() bool {
	return h.sync == nil && h.async == nil
}

// UnsubscribeFunc removes exactly the handler record it was returned for.
// It is idempotent: invoking it more than once has the same effect as
// invoking it once, and it never fails.
type UnsubscribeFunc func()

// handlerRecord is one entry in the broker's registry.
type handlerRecord struct {
	id      string
	handler Handler
	isOnce  bool
	owner   string // module name, or "" if subscribed directly on the broker
}
