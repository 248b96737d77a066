// Package bus implements an in-process publish/subscribe event broker and
// the module lifecycle protocol that binds subscription lifetimes to
// module lifetimes.
//
// All communication between the modules of a host application flows
// through a single process-wide Broker: modules publish typed Events and
// subscribe to event types, never invoking each other directly.
//
// Basic usage:
//
//	b := bus.Default()
//	unsub, err := b.Subscribe("midi:note-on", bus.Sync(func(e bus.Event) {
//		note := e.Detail.(map[string]any)["note"]
//		fmt.Println("note on", note)
//	}))
//	if err != nil {
//		panic(err)
//	}
//	defer unsub()
//	b.Emit("midi:note-on", map[string]any{"note": 60}, "", "")
//
// Concrete modules embed *BaseModule and supply a UserInit hook; the
// broker handles identity stamping, subscription cleanup, and the
// reserved module:* lifecycle events automatically.
package bus
