// Package orchestrator runs one task across many devices.
//
// The Orchestrator is a registry of [worker.Worker] values keyed by device
// ID. It starts a worker per free device, routes stop and resume requests
// to the workers matching a set of selectors, and removes each worker once
// its terminal event has been delivered.
//
// # Registry Invariant
//
// At most one non-terminal worker exists per device. Start skips a device
// whose registered worker is still live and publishes a "busy, skipping"
// log event for it instead. A worker that reached a terminal state but is
// still delivering its last events is replaced; the replacement holds its
// own events until the old worker's pump is done, so the device's stream
// stays ordered.
//
// # Selectors
//
// Stop and Resume accept exact device IDs or glob patterns:
//
//	o.Stop("emulator-5554")
//	o.Resume("emulator-*")
//	o.Stop("*")
//
// Selectors that match nothing are ignored.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The registry mutex is never held
// while calling into a worker's agent, a takeover gate or the event bus.
//
// # Basic Usage
//
//	bus := event.NewBus()
//	o := orchestrator.New(bus, orchestrator.DefaultConfig(), logger)
//	o.Subscribe(func(e event.Event) { fmt.Println(e.EventType()) })
//
//	req, err := orchestrator.NewTaskRequest("open settings", model, run, factory)
//	if err != nil {
//	    return err
//	}
//	report, err := o.Start([]string{"emulator-5554", "emulator-5556"}, req)
//
//	<-o.Idle()
package orchestrator
