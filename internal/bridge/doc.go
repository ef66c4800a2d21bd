// Package bridge adapts an agent's untyped progress callbacks into typed
// device events.
//
// Agents report progress as (eventType, data) pairs. [Translate] maps each
// known type to its event, filling in defaults for missing fields. A [Bridge]
// is the callback handed to one agent: it translates and then offers the
// event to the worker's [Outbox] without ever blocking the agent goroutine.
// Events that cannot be delivered are dropped, logged and counted.
//
// Lifecycle:
//
//	b := bridge.New(deviceID, runID, outbox, bridge.WithLogger(log))
//	cb := agent.Callbacks{OnEvent: b.Handle}
//	// ... agent runs ...
//	b.Dropped() // number of callbacks that never reached observers
package bridge
