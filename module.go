package bus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status is a module's position in the lifecycle state machine.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusInitializing  Status = "initializing"
	StatusReady         Status = "ready"
	StatusError         Status = "error"
	StatusDestroyed     Status = "destroyed"
)

// Reserved event types, emitted only by the module base. User modules
// must not emit these directly; Module.Emit rejects them with
// ErrReservedEventType.
const (
	EventModuleInitializing = "module:initializing"
	EventModuleReady        = "module:ready"
	EventModuleError        = "module:error"
	EventModuleDestroyed    = "module:destroyed"
)

func isReservedEventType(t string) bool {
	switch t {
	case EventModuleInitializing, EventModuleReady, EventModuleError, EventModuleDestroyed:
		return true
	default:
		return false
	}
}

// Module is the minimal contract the broker's module registry needs.
// BaseModule satisfies it; concrete modules get it for free by embedding
// *BaseModule.
type Module interface {
	Name() string
}

// UserInitializer is the single overridable extension point concrete
// modules implement. It runs between the INITIALIZING and READY/ERROR
// transitions and is the only place a concrete module customizes
// startup.
//
// Init itself is not overridable: it is a concrete method on BaseModule,
// not a virtual one a subclass can shadow. Go has no inheritance, so
// there is no way for a concrete module to shadow or bypass the
// lifecycle transitions Init performs around UserInit.
type UserInitializer interface {
	UserInit(ctx context.Context) error
}

// ModuleStatus is the observable state of a module, returned by
// BaseModule.GetStatus.
type ModuleStatus struct {
	Name        string
	Version     string
	Description string
	Status      Status
}

type unsubEntry struct {
	id string
	fn UnsubscribeFunc
}

// BaseModule is the lifecycle holder every concrete module embeds. It
// owns a name, version, description, status, and the list of
// unsubscribe tokens returned by subscriptions made through it, and
// wraps Broker operations so emissions automatically carry the module's
// identity and subscriptions are released on Destroy.
type BaseModule struct {
	broker *Broker
	self   UserInitializer

	mu          sync.Mutex
	name        string
	version     string
	description string
	status      Status
	unsubs      []unsubEntry
	nextUnsubID uint64
}

// NewBaseModule constructs a module bound to broker, under the given
// identity, and registers it in the broker's module registry. self is
// the concrete module embedding this BaseModule; it receives the
// UserInit callback during Init.
//
// Registering a second module under a name already in use replaces the
// first (last write wins); uniqueness of names is the caller's
// responsibility.
func NewBaseModule(broker *Broker, self UserInitializer, name, version, description string) *BaseModule {
	m := &BaseModule{
		broker:      broker,
		self:        self,
		name:        name,
		version:     version,
		description: description,
		status:      StatusUninitialized,
	}
	broker.RegisterModule(m)
	return m
}

// Name returns the module's identifier, satisfying Module.
func (m *BaseModule) Name() string { return m.name }

// Version returns the module's version string.
func (m *BaseModule) Version() string { return m.version }

// Description returns the module's human-readable description.
func (m *BaseModule) Description() string { return m.description }

func (m *BaseModule) currentStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// GetStatus returns a snapshot of the module's identity and current
// state.
func (m *BaseModule) GetStatus() ModuleStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ModuleStatus{Name: m.name, Version: m.version, Description: m.description, Status: m.status}
}

// Init drives UNINITIALIZED -> INITIALIZING -> READY|ERROR:
//   - validates the module is in the UNINITIALIZED state,
//   - transitions to INITIALIZING and emits module:initializing,
//   - calls self.UserInit(ctx),
//   - transitions to READY and emits module:ready on success, or to
//     ERROR and emits module:error (carrying the failure) on failure,
//     re-raising the error to the caller.
//
// Calling Init on a destroyed module fails immediately with
// ErrModuleDestroyed without touching status again. Calling it on a
// module that is not UNINITIALIZED (and not DESTROYED) fails with
// ErrModuleNotUninitialized — Init only ever runs once per module.
func (m *BaseModule) Init(ctx context.Context) error {
	m.mu.Lock()
	switch m.status {
	case StatusDestroyed:
		m.mu.Unlock()
		return ErrModuleDestroyed
	case StatusUninitialized:
		m.status = StatusInitializing
		m.mu.Unlock()
	default:
		m.mu.Unlock()
		return ErrModuleNotUninitialized
	}

	m.emitReserved(EventModuleInitializing, nil)

	err := m.self.UserInit(ctx)

	if err != nil {
		m.mu.Lock()
		m.status = StatusError
		m.mu.Unlock()
		m.emitReserved(EventModuleError, map[string]any{
			"message": err.Error(),
		})
		return err
	}

	m.mu.Lock()
	m.status = StatusReady
	m.mu.Unlock()
	m.emitReserved(EventModuleReady, nil)
	return nil
}

// Destroy is idempotent and non-suspending: it invokes every tracked
// unsubscribe token exactly once (failures logged and swallowed,
// aggregated with multierr into a single warning), unregisters the
// module, and emits module:destroyed. Calling Destroy a second time is a
// no-op.
func (m *BaseModule) Destroy() {
	m.mu.Lock()
	if m.status == StatusDestroyed {
		m.mu.Unlock()
		return
	}
	pending := m.unsubs
	m.unsubs = nil
	m.status = StatusDestroyed
	m.mu.Unlock()

	var failures []error
	for _, e := range pending {
		if err := m.safeUnsub(e.fn); err != nil {
			failures = append(failures, err)
		}
	}
	// Defensive sweep: catches any handler registered directly against
	// the registry with this module as owner but whose token was, for
	// whatever reason, never appended to unsubs.
	m.broker.registry.removeOwner(m.name)

	if len(failures) > 0 {
		m.broker.logger.Warn("unsubscribe failed during destroy",
			"module", m.name, "error", aggregateErrors(failures...))
	}

	m.broker.UnregisterModule(m.name)
	m.emitReserved(EventModuleDestroyed, nil)
}

func (m *BaseModule) safeUnsub(fn UnsubscribeFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}

// emitReserved bypasses the user-facing Emit's reserved-type guard; it
// is the only place the four module:* event types are ever emitted.
func (m *BaseModule) emitReserved(eventType string, detail any) {
	m.broker.Emit(eventType, detail, m.name, m.version)
}

// Emit publishes a domain event through the broker, automatically
// stamping source/version with this module's identity. Callers cannot
// override those fields and cannot impersonate a reserved lifecycle
// event type.
func (m *BaseModule) Emit(eventType string, detail any) error {
	if isReservedEventType(eventType) {
		return ErrReservedEventType
	}
	m.broker.Emit(eventType, detail, m.name, m.version)
	return nil
}

// trackUnsub records token in unsubs (while the module is not destroyed)
// and returns a token that both removes the subscription and drops it
// from unsubs, so a caller that unsubscribes early doesn't leave a dead
// entry for Destroy to invoke again.
func (m *BaseModule) trackUnsub(raw UnsubscribeFunc) UnsubscribeFunc {
	m.mu.Lock()
	if m.status == StatusDestroyed {
		m.mu.Unlock()
		return func() {}
	}
	m.nextUnsubID++
	id := fmt.Sprintf("%d", m.nextUnsubID)
	m.unsubs = append(m.unsubs, unsubEntry{id: id, fn: raw})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			raw()
			m.mu.Lock()
			for i, e := range m.unsubs {
				if e.id == id {
					m.unsubs = append(m.unsubs[:i:i], m.unsubs[i+1:]...)
					break
				}
			}
			m.mu.Unlock()
		})
	}
}

// On subscribes handler to eventType through the broker, binding the
// returned token's lifetime to this module: it will be invoked (if not
// already) when Destroy runs.
func (m *BaseModule) On(eventType string, handler Handler) (UnsubscribeFunc, error) {
	raw, err := m.broker.subscribe(eventType, handler, false, m.name)
	if err != nil {
		return nil, err
	}
	return m.trackUnsub(raw), nil
}

// Once subscribes a once-only handler, tracked the same way as On.
func (m *BaseModule) Once(eventType string, handler Handler) (UnsubscribeFunc, error) {
	raw, err := m.broker.subscribe(eventType, handler, true, m.name)
	if err != nil {
		return nil, err
	}
	return m.trackUnsub(raw), nil
}

// WaitFor suspends until eventType is emitted, ctx is cancelled, or
// timeout elapses (timeout < 0 waits indefinitely). The pending wait is
// tracked in unsubs via a cancel function so Destroy can unblock a
// caller still waiting when the module is torn down; the entry is
// removed the moment the wait settles, since a resolved or cancelled
// wait needs no further cleanup.
func (m *BaseModule) WaitFor(ctx context.Context, eventType string, timeout time.Duration) (Event, error) {
	waitCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if m.status == StatusDestroyed {
		m.mu.Unlock()
		cancel()
		return Event{}, ErrModuleDestroyed
	}
	m.nextUnsubID++
	id := fmt.Sprintf("%d", m.nextUnsubID)
	m.unsubs = append(m.unsubs, unsubEntry{id: id, fn: UnsubscribeFunc(cancel)})
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		for i, e := range m.unsubs {
			if e.id == id {
				m.unsubs = append(m.unsubs[:i:i], m.unsubs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		cancel()
	}()

	return m.broker.WaitFor(waitCtx, eventType, timeout)
}

// RegisteredEventTypes reports the event types this module currently
// has at least one live subscription on. Read-only; adds no invariant
// of its own.
func (m *BaseModule) RegisteredEventTypes() []string {
	return m.broker.registry.eventTypesFor(m.name)
}
