package bus

import "errors"

// Broker errors.
var (
	// ErrWaitTimeout is returned by WaitFor when its deadline elapses
	// before a matching event is emitted.
	ErrWaitTimeout = errors.New("bus: wait for event timed out")

	// ErrWaitCancelled is returned by WaitFor when the caller's context
	// is cancelled before a matching event is emitted.
	ErrWaitCancelled = errors.New("bus: wait for event cancelled")

	// ErrHandlerNil is returned by Subscribe/SubscribeOnce when handler
	// is the zero value of Handler.
	ErrHandlerNil = errors.New("bus: handler must not be nil")

	// ErrEventTypeEmpty is returned when an empty event type is passed
	// to an operation that requires one.
	ErrEventTypeEmpty = errors.New("bus: event type must not be empty")
)

// Module lifecycle errors.
var (
	// ErrReservedEventType is returned by Module.Emit when the caller
	// attempts to emit one of the four reserved module:* lifecycle
	// event types directly.
	ErrReservedEventType = errors.New("bus: event type is reserved for the module lifecycle")

	// ErrModuleDestroyed is returned by Init when called on a module
	// that has already been destroyed.
	ErrModuleDestroyed = errors.New("bus: module has been destroyed")

	// ErrModuleNotUninitialized is returned by Init when called on a
	// module that is not in the UNINITIALIZED state and has not been
	// destroyed either (e.g. a second Init call on a READY module).
	ErrModuleNotUninitialized = errors.New("bus: module is not in the uninitialized state")
)
