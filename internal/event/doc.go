// Package event provides the typed device event stream and the pub-sub bus
// that carries it from execution workers to observers in phonefleet.
//
// Agents report progress through untyped callbacks; the bridge package turns
// those into the closed set of events defined here. Every device event carries
// the device it came from, the run it belongs to, and a timestamp.
//
// # Main Types
//
//   - [Event]: Interface that all events implement, providing EventType() and Timestamp()
//   - [DeviceEvent]: Event attributed to one device and one run
//   - [Bus]: Synchronous pub-sub event dispatcher with thread-safe operations
//   - [Envelope]: JSON wire form of a device event for remote viewers
//
// # Device Events
//
// Progress:
//   - [ThinkingEvent]: the agent's reasoning text
//   - [ActionEvent]: an action the agent issued, with an optional screenshot
//   - [LogEvent]: an informational line
//
// Control:
//   - [TakeoverRequestedEvent]: the agent parked waiting for a human
//
// Terminal (exactly one per worker):
//   - [FinishedEvent]: the run completed
//   - [ErrorEvent] with Fatal set: the run failed
//   - [CancelledEvent]: the run was stopped
//
// Non-fatal [ErrorEvent] values are progress, not terminal.
//
// # Thread Safety
//
// The [Bus] type is safe for concurrent use. Handlers are called synchronously
// on the publishing goroutine and protected against panics. Each worker
// publishes from a single goroutine, so handlers observe a device's events in
// the order the device produced them.
//
// # Basic Usage
//
//	bus := event.NewBus()
//
//	bus.Subscribe(event.TypeTakeover, func(e event.Event) {
//	    t := e.(event.TakeoverRequestedEvent)
//	    fmt.Printf("%s needs help: %s\n", t.DeviceID, t.Message)
//	})
//
//	id := bus.SubscribeAll(render)
//	defer bus.Unsubscribe(id)
//
// # Event Type Naming Convention
//
// Event types follow the pattern "category.action":
//   - device.thinking, device.action, device.log, device.error
//   - device.finished, device.takeover, device.cancelled
package event
