package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
)

// Option configures a Broker at construction time. The core takes no
// file- or environment-backed configuration (that belongs to an external
// adapter, see cmd/brokerd); these are the in-process knobs a host
// program sets directly.
type Option func(*Broker)

// WithLogCapacity overrides the default 1000-entry event log capacity.
// Intended for tests that want to exercise eviction without emitting a
// thousand events.
func WithLogCapacity(capacity int) Option {
	return func(b *Broker) { b.log = newEventLog(capacity) }
}

// WithLogger overrides the broker's Logger. New defaults to a logger that
// discards everything; Default passes a slog-backed logger using
// slog.Default().
func WithLogger(logger Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithScheduler overrides the broker's async-handler Scheduler. Defaults
// to a goroutine-per-task scheduler.
func WithScheduler(s Scheduler) Option {
	return func(b *Broker) {
		if s != nil {
			b.scheduler = s
		}
	}
}

// WithDebug sets the initial debug flag.
func WithDebug(debug bool) Option {
	return func(b *Broker) { b.debug.Store(debug) }
}

// Broker is the process-wide pub/sub dispatcher: it owns the handler
// registry, the bounded event log, the module registry, and the pending
// awaiter table. A Broker is safe for concurrent use from multiple
// goroutines: each owned structure serializes access with its own lock.
type Broker struct {
	registry  *registry
	log       *eventLog
	awaiters  *awaiterTable
	scheduler Scheduler
	logger    Logger
	debug     atomic.Bool

	modMu   sync.RWMutex
	modules map[string]Module
}

// New creates a standalone Broker. Most programs should use Default;
// New exists for tests that want isolation from the process-wide
// singleton and for hosts that deliberately run more than one broker.
func New(opts ...Option) *Broker {
	b := &Broker{
		registry:  newRegistry(),
		log:       newEventLog(logCapacity),
		awaiters:  newAwaiterTable(),
		scheduler: newDefaultScheduler(),
		logger:    noopLogger{},
		modules:   make(map[string]Module),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var (
	defaultBroker     *Broker
	defaultBrokerOnce sync.Once
	defaultBrokerMu   sync.Mutex
)

// Default returns the process-wide broker handle, constructing it on
// first access. Every call in the same process returns the same
// instance.
func Default() *Broker {
	defaultBrokerOnce.Do(func() {
		defaultBrokerMu.Lock()
		defer defaultBrokerMu.Unlock()
		if defaultBroker == nil {
			defaultBroker = New(WithLogger(NewSlogLogger(nil)))
		}
	})
	return defaultBroker
}

// ResetDefault replaces the process-wide broker with a fresh, empty one.
// This is a testing seam, not a public API a production module should
// ever call: it exists so test suites can isolate themselves from state
// left behind by earlier tests without restarting the process.
func ResetDefault() {
	defaultBrokerMu.Lock()
	defer defaultBrokerMu.Unlock()
	defaultBroker = New(WithLogger(NewSlogLogger(nil)))
	defaultBrokerOnce = sync.Once{}
	defaultBrokerOnce.Do(func() {})
}

// SetDebug toggles advisory debug logging for Emit/Subscribe/unsubscribe
// operations. Debug output is for humans; never assert on it.
func (b *Broker) SetDebug(debug bool) {
	b.debug.Store(debug)
}

// Subscribe registers handler for eventType and returns an idempotent
// token that removes exactly this registration.
func (b *Broker) Subscribe(eventType string, handler Handler) (UnsubscribeFunc, error) {
	return b.subscribe(eventType, handler, false, "")
}

// SubscribeOnce registers handler for eventType; it is removed from the
// registry immediately before its first invocation, so it fires at most
// once across the lifetime of the subscription.
func (b *Broker) SubscribeOnce(eventType string, handler Handler) (UnsubscribeFunc, error) {
	return b.subscribe(eventType, handler, true, "")
}

func (b *Broker) subscribe(eventType string, handler Handler, isOnce bool, owner string) (UnsubscribeFunc, error) {
	if eventType == "" {
		return nil, ErrEventTypeEmpty
	}
	if handler.isZero() {
		return nil, ErrHandlerNil
	}
	rec := b.registry.add(eventType, handler, isOnce, owner)
	if b.debug.Load() {
		b.logger.Debug("bus: subscribed", "type", eventType, "once", isOnce, "owner", owner)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			b.registry.remove(eventType, rec.id)
			if b.debug.Load() {
				b.logger.Debug("bus: unsubscribed", "type", eventType, "owner", owner)
			}
		})
	}, nil
}

// Emit constructs an Event from type/detail/source/version, appends it to
// the log, dispatches it to every handler currently subscribed to type
// (in subscription order for synchronous handlers), and resolves any
// pending WaitFor calls for type. It never returns an error: handler
// failures are caught, logged, and do not interrupt dispatch to
// remaining handlers.
//
// source/version default to "unknown"/"0.0.0" when empty, which is the
// case for every Emit not routed through a Module.
func (b *Broker) Emit(eventType string, detail any, source, version string) {
	ev := Event{Type: eventType, Detail: detail, Meta: newMeta(source, version)}
	b.log.append(ev)

	if b.debug.Load() {
		b.logger.Debug("bus: emit", "type", eventType, "source", ev.Meta.Source)
	}

	// Snapshot-on-dispatch: copy the handler list under lock, then
	// iterate the copy with no lock held. This is what makes a handler
	// free to subscribe, unsubscribe, or call Emit again (nested,
	// depth-first) during its own invocation without faulting or
	// skipping/duplicating entries already in this snapshot.
	snapshot := b.registry.snapshot(eventType)
	for _, rec := range snapshot {
		if rec.isOnce {
			// A nested Emit may already have fired and removed this
			// once-record; the outer snapshot must not fire it again.
			live := false
			for _, r := range b.registry.snapshot(eventType) {
				if r == rec {
					live = true
				}
			}
			if !live {
				continue
			}
			b.registry.remove(eventType, rec.id)
		}
		b.dispatch(rec, ev)
	}

	b.awaiters.resolveAll(eventType, ev)
}

func (b *Broker) dispatch(rec *handlerRecord, ev Event) {
	if rec.handler.sync != nil {
		b.invokeSync(rec, ev)
		return
	}
	h := rec.handler.async
	b.scheduler.Schedule(func() {
		runAsync(context.Background(), h, ev, b.logger)
	})
}

// invokeSync recovers a panicking synchronous handler so one misbehaving
// subscriber never prevents the rest of the snapshot from running.
func (b *Broker) invokeSync(rec *handlerRecord, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			b.logger.Warn("handler failed", "type", ev.Type, "owner", rec.owner, "error", err)
		}
	}()
	rec.handler.sync(ev)
}

// WaitFor suspends until an event of eventType is emitted, the timeout
// elapses, or ctx is cancelled. timeout < 0 means wait indefinitely
// (still bounded by ctx); timeout == 0 is a valid immediate deadline.
func (b *Broker) WaitFor(ctx context.Context, eventType string, timeout time.Duration) (Event, error) {
	return b.awaiters.waitFor(ctx, eventType, timeout)
}

// EventLog returns a chronological copy of the log, truncated to the
// most recent limit entries when limit > 0.
func (b *Broker) EventLog(limit int) []Event {
	return b.log.snapshot(limit)
}

// ClearEventLog empties the log.
func (b *Broker) ClearEventLog() {
	b.log.clear()
}

// RegisterModule adds module to the module registry under module.Name().
// Re-registering a name replaces the previous entry (last write wins);
// uniqueness of names is the caller's responsibility.
func (b *Broker) RegisterModule(module Module) {
	b.modMu.Lock()
	defer b.modMu.Unlock()
	b.modules[module.Name()] = module
}

// UnregisterModule removes name from the module registry, if present.
func (b *Broker) UnregisterModule(name string) {
	b.modMu.Lock()
	defer b.modMu.Unlock()
	delete(b.modules, name)
}

// GetModule returns the module registered under name, or nil.
func (b *Broker) GetModule(name string) Module {
	b.modMu.RLock()
	defer b.modMu.RUnlock()
	return b.modules[name]
}

// ListModules returns the names of every currently registered module, in
// no particular order.
func (b *Broker) ListModules() []string {
	b.modMu.RLock()
	defer b.modMu.RUnlock()
	out := make([]string, 0, len(b.modules))
	for name := range b.modules {
		out = append(out, name)
	}
	return out
}

// Stats is a read-only observability snapshot. It carries no invariants
// of its own; it exists purely for introspection (e.g. cmd/brokerd's
// /modules endpoint).
type Stats struct {
	ModuleCount         int
	EventLogLength      int
	ModuleNames         []string
	HandlerCount        int
	PendingAwaiterCount int
}

// Stats returns a snapshot of the broker's current size.
func (b *Broker) Stats() Stats {
	b.modMu.RLock()
	names := make([]string, 0, len(b.modules))
	for name := range b.modules {
		names = append(names, name)
	}
	b.modMu.RUnlock()
	return Stats{
		ModuleCount:         len(names),
		EventLogLength:      b.log.len(),
		ModuleNames:         names,
		HandlerCount:        b.registry.count(),
		PendingAwaiterCount: b.awaiters.count(),
	}
}

// aggregateErrors combines zero or more errors with multierr so a
// caller can log one combined failure from e.g. Destroy's best-effort
// unsubscribe sweep instead of one log line per failure.
func aggregateErrors(errs ...error) error {
	var combined error
	for _, err := range errs {
		combined = multierr.Append(combined, err)
	}
	return combined
}
