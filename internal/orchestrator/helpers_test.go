package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/phonefleet/internal/agent"
	"github.com/Iron-Ham/phonefleet/internal/event"
	"github.com/Iron-Ham/phonefleet/internal/worker"
)

const waitTimeout = 3 * time.Second

// eventLog subscribes to a bus and records device events.
type eventLog struct {
	mu     sync.Mutex
	events []event.DeviceEvent
}

func (l *eventLog) handle(e event.Event) {
	de, ok := e.(event.DeviceEvent)
	if !ok {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, de)
	l.mu.Unlock()
}

func (l *eventLog) forDevice(id string) []event.DeviceEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []event.DeviceEvent
	for _, e := range l.events {
		if e.Device() == id {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) typesFor(id string) []string {
	var out []string
	for _, e := range l.forDevice(id) {
		out = append(out, e.EventType())
	}
	return out
}

// waitFor polls until device id has an event of type typ.
func (l *eventLog) waitFor(t *testing.T, id, typ string) event.DeviceEvent {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		for _, e := range l.forDevice(id) {
			if e.EventType() == typ {
				return e
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("device %s: no %s event; got %v", id, typ, l.typesFor(id))
	return nil
}

type funcAgent func(ctx context.Context, cb agent.Callbacks) (string, error)

// perDevice builds a factory dispatching to a behavior per device. Devices
// without an entry use fallback.
func perDevice(fallback funcAgent, byDevice map[string]funcAgent) agent.Factory {
	return func(deviceID string, model agent.ModelConfig, run agent.RunConfig, cb agent.Callbacks) (agent.Agent, error) {
		fn := fallback
		if f, ok := byDevice[deviceID]; ok {
			fn = f
		}
		return &stubAgent{fn: fn, cb: cb}, nil
	}
}

type stubAgent struct {
	fn funcAgent
	cb agent.Callbacks
}

func (a *stubAgent) Run(ctx context.Context, task string) (string, error) {
	return a.fn(ctx, a.cb)
}

func finishWith(result string) funcAgent {
	return func(ctx context.Context, cb agent.Callbacks) (string, error) {
		cb.OnEvent("thinking", map[string]any{"content": "working"})
		return result, nil
	}
}

func blockUntilCancelled(ctx context.Context, cb agent.Callbacks) (string, error) {
	<-ctx.Done()
	return "", context.Cause(ctx)
}

func testModel() agent.ModelConfig {
	return agent.ModelConfig{BaseURL: "http://localhost:8000/v1", ModelName: "autoglm-phone-9b"}
}

func mustRequest(t *testing.T, task string, factory agent.Factory) TaskRequest {
	t.Helper()
	req, err := NewTaskRequest(task, testModel(), agent.RunConfig{MaxSteps: agent.DefaultMaxSteps}, factory)
	if err != nil {
		t.Fatalf("NewTaskRequest() error = %v", err)
	}
	return req
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *eventLog) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StopGrace = time.Second
	o := New(event.NewBus(), cfg, nil)
	log := &eventLog{}
	o.Subscribe(log.handle)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o, log
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	select {
	case <-o.Idle():
	case <-time.After(waitTimeout):
		t.Fatalf("orchestrator not idle; registered: %v", o.Snapshot())
	}
}

func waitDeviceState(t *testing.T, o *Orchestrator, id string, want worker.State) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if info, err := o.Status(id); err == nil && info.State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	info, err := o.Status(id)
	t.Fatalf("device %s: state = %v (err %v), want %s", id, info.State, err, want)
}
