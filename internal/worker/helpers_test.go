package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/phonefleet/internal/agent"
	"github.com/Iron-Ham/phonefleet/internal/event"
)

const waitTimeout = 3 * time.Second

// collector is a Publisher that records everything it receives.
type collector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *collector) Publish(e event.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) Events() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]event.Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collector) types() []string {
	var out []string
	for _, e := range c.Events() {
		out = append(out, e.EventType())
	}
	return out
}

func (c *collector) terminalCount() int {
	n := 0
	for _, e := range c.Events() {
		if event.IsTerminal(e) {
			n++
		}
	}
	return n
}

// waitFor polls until an event of type typ was published and returns it.
func (c *collector) waitFor(t *testing.T, typ string) event.Event {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		for _, e := range c.Events() {
			if e.EventType() == typ {
				return e
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no %s event within %s; got %v", typ, waitTimeout, c.types())
	return nil
}

// stubAgent runs a test-provided function with the callbacks it was built with.
type stubAgent struct {
	run func(ctx context.Context, cb agent.Callbacks) (string, error)
	cb  agent.Callbacks
}

func (a *stubAgent) Run(ctx context.Context, task string) (string, error) {
	return a.run(ctx, a.cb)
}

func factoryFor(run func(ctx context.Context, cb agent.Callbacks) (string, error)) agent.Factory {
	return func(deviceID string, model agent.ModelConfig, rc agent.RunConfig, cb agent.Callbacks) (agent.Agent, error) {
		return &stubAgent{run: run, cb: cb}, nil
	}
}

func newRequest(run func(ctx context.Context, cb agent.Callbacks) (string, error)) Request {
	return Request{
		RunID:   "run-1",
		Task:    "open settings",
		Model:   agent.ModelConfig{BaseURL: "http://localhost:8000/v1", ModelName: "autoglm-phone-9b"},
		Run:     agent.RunConfig{MaxSteps: 50},
		Factory: factoryFor(run),
	}
}

func waitDone(t *testing.T, w *Worker) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(waitTimeout):
		t.Fatalf("worker %s did not finish; state=%s", w.DeviceID(), w.State())
	}
}

func waitState(t *testing.T, w *Worker, want State) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for w.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", w.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}
