package orchestrator

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/phonefleet/internal/agent"
	fleeterrors "github.com/Iron-Ham/phonefleet/internal/errors"
	"github.com/Iron-Ham/phonefleet/internal/event"
	"github.com/Iron-Ham/phonefleet/internal/worker"
)

func TestNewTaskRequest(t *testing.T) {
	factory := perDevice(finishWith("ok"), nil)
	tests := []struct {
		name    string
		task    string
		run     agent.RunConfig
		factory agent.Factory
		wantErr error
	}{
		{"valid", "open settings", agent.RunConfig{MaxSteps: 10}, factory, nil},
		{"blank task", "   ", agent.RunConfig{MaxSteps: 10}, factory, fleeterrors.ErrEmptyTask},
		{"zero steps", "task", agent.RunConfig{}, factory, &fleeterrors.ConfigurationError{}},
		{"negative timeout", "task", agent.RunConfig{MaxSteps: 1, Timeout: -time.Second}, factory, &fleeterrors.ConfigurationError{}},
		{"no factory", "task", agent.RunConfig{MaxSteps: 1}, nil, &fleeterrors.ConfigurationError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewTaskRequest(tt.task, testModel(), tt.run, tt.factory)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("NewTaskRequest() error = %v", err)
				}
				if req.Task() != tt.task {
					t.Errorf("Task() = %q", req.Task())
				}
				if req.Model().Lang != agent.LangChinese {
					t.Errorf("Model().Lang = %q, want default %q", req.Model().Lang, agent.LangChinese)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewTaskRequest() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewTaskRequest_DropsDeviceID(t *testing.T) {
	req, err := NewTaskRequest("t", testModel(), agent.RunConfig{MaxSteps: 1, DeviceID: "stale"}, perDevice(finishWith(""), nil))
	if err != nil {
		t.Fatal(err)
	}
	if req.Run().DeviceID != "" {
		t.Errorf("Run().DeviceID = %q, want empty", req.Run().DeviceID)
	}
}

func TestStart_NoDevices(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	req := mustRequest(t, "task", perDevice(finishWith("ok"), nil))

	for _, ids := range [][]string{nil, {}, {"", "  "}} {
		if _, err := o.Start(ids, req); !errors.Is(err, fleeterrors.ErrNoDevices) {
			t.Errorf("Start(%q) error = %v, want ErrNoDevices", ids, err)
		}
	}
	if _, err := o.Start([]string{"d1"}, TaskRequest{}); err == nil {
		t.Error("Start() with a zero TaskRequest should fail")
	}
}

func TestStart_DeduplicatesDevices(t *testing.T) {
	o, log := newTestOrchestrator(t)
	req := mustRequest(t, "task", perDevice(finishWith("ok"), nil))

	report, err := o.Start([]string{"d1", " d1 ", "", "d2", "d1"}, req)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"d1", "d2"}; !reflect.DeepEqual(report.Started, want) {
		t.Errorf("Started = %v, want %v", report.Started, want)
	}
	if report.RunID == "" {
		t.Error("RunID should be assigned")
	}
	waitIdle(t, o)

	for _, id := range []string{"d1", "d2"} {
		events := log.forDevice(id)
		if n := len(events); n != 3 {
			t.Errorf("device %s: %d events, want 3 (%v)", id, n, log.typesFor(id))
		}
		for _, e := range events {
			if e.Run() != report.RunID {
				t.Errorf("device %s: event run = %q, want %q", id, e.Run(), report.RunID)
			}
		}
	}
}

func TestStart_PerDeviceOrder(t *testing.T) {
	o, log := newTestOrchestrator(t)
	req := mustRequest(t, "task", perDevice(func(ctx context.Context, cb agent.Callbacks) (string, error) {
		cb.OnEvent("thinking", map[string]any{"content": "find settings"})
		cb.OnEvent("action", map[string]any{"action": map[string]any{"action": "Launch", "app": "Settings"}})
		cb.OnEvent("finished", map[string]any{"result": "opened"})
		return "", nil
	}, nil))

	if _, err := o.Start([]string{"d1", "d2", "d3"}, req); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, o)

	want := []string{event.TypeLog, event.TypeThinking, event.TypeAction, event.TypeFinished}
	for _, id := range []string{"d1", "d2", "d3"} {
		if got := log.typesFor(id); !reflect.DeepEqual(got, want) {
			t.Errorf("device %s: events = %v, want %v", id, got, want)
		}
	}
}

func TestStart_BusyNoticeFollowsEarlierEvents(t *testing.T) {
	o, log := newTestOrchestrator(t)
	o.Subscribe(func(event.Event) { time.Sleep(10 * time.Millisecond) })

	emitted := make(chan struct{})
	release := make(chan struct{})
	req := mustRequest(t, "task", perDevice(func(ctx context.Context, cb agent.Callbacks) (string, error) {
		cb.OnEvent("thinking", map[string]any{"content": "a"})
		cb.OnEvent("thinking", map[string]any{"content": "b"})
		close(emitted)
		<-release
		return "ok", nil
	}, nil))

	if _, err := o.Start([]string{"d1"}, req); err != nil {
		t.Fatal(err)
	}
	<-emitted
	if _, err := o.Start([]string{"d1"}, req); err != nil {
		t.Fatal(err)
	}
	close(release)
	log.waitFor(t, "d1", event.TypeFinished)

	got := log.typesFor("d1")
	want := []string{event.TypeLog, event.TypeThinking, event.TypeThinking, event.TypeLog, event.TypeFinished}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("d1 events = %v, want %v", got, want)
	}
}

func TestStart_BusyDeviceIsSkipped(t *testing.T) {
	o, log := newTestOrchestrator(t)
	req := mustRequest(t, "task", perDevice(blockUntilCancelled, nil))

	first, err := o.Start([]string{"d1"}, req)
	if err != nil {
		t.Fatal(err)
	}
	waitDeviceState(t, o, "d1", worker.StateRunning)

	second, err := o.Start([]string{"d1", "d2"}, req)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(second.Busy, []string{"d1"}) {
		t.Errorf("Busy = %v, want [d1]", second.Busy)
	}
	if !reflect.DeepEqual(second.Started, []string{"d2"}) {
		t.Errorf("Started = %v, want [d2]", second.Started)
	}

	var busyLog event.LogEvent
	deadline := time.Now().Add(waitTimeout)
	for busyLog.RunID == "" && time.Now().Before(deadline) {
		for _, e := range log.forDevice("d1") {
			if l, ok := e.(event.LogEvent); ok && strings.Contains(l.Text, "busy") {
				busyLog = l
			}
		}
		time.Sleep(time.Millisecond)
	}
	if busyLog.RunID != second.RunID {
		t.Errorf("busy log run = %q, want %q", busyLog.RunID, second.RunID)
	}

	info, err := o.Status("d1")
	if err != nil {
		t.Fatal(err)
	}
	if info.RunID != first.RunID {
		t.Errorf("d1 worker run = %q, want the first run %q", info.RunID, first.RunID)
	}

	o.Stop("*")
	waitIdle(t, o)
}

func TestStart_RapidDoubleStart(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	req := mustRequest(t, "task", perDevice(blockUntilCancelled, nil))

	const callers = 16
	var started, busy atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := o.Start([]string{"emulator-5554"}, req)
			if err != nil {
				t.Error(err)
				return
			}
			started.Add(int32(len(report.Started)))
			busy.Add(int32(len(report.Busy)))
		}()
	}
	wg.Wait()

	if started.Load() != 1 {
		t.Errorf("started %d workers, want 1", started.Load())
	}
	if busy.Load() != callers-1 {
		t.Errorf("busy = %d, want %d", busy.Load(), callers-1)
	}
	if n := len(o.Snapshot()); n != 1 {
		t.Errorf("registered workers = %d, want 1", n)
	}

	o.Stop("emulator-5554")
	waitIdle(t, o)
}

func TestStart_ReplacesTerminalWorkerInOrder(t *testing.T) {
	o, log := newTestOrchestrator(t)

	// Hold the first run's terminal event on its pump so the worker is
	// terminal but still registered when the second Start arrives.
	reached := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	o.Subscribe(func(e event.Event) {
		if e.EventType() != event.TypeFinished {
			return
		}
		once.Do(func() {
			close(reached)
			<-release
		})
	})

	req := mustRequest(t, "task", perDevice(finishWith("ok"), nil))
	first, err := o.Start([]string{"d1"}, req)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-reached:
	case <-time.After(waitTimeout):
		t.Fatal("first run never finished")
	}

	second, err := o.Start([]string{"d1"}, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Started) != 1 {
		t.Fatalf("second Start() = %+v, want d1 started", second)
	}

	close(release)
	waitIdle(t, o)

	var runs []string
	for _, e := range log.forDevice("d1") {
		runs = append(runs, e.Run())
	}
	// The log subscriber sits before the blocking one, so the first
	// run's terminal event is recorded before the hold.
	split := 0
	for split < len(runs) && runs[split] == first.RunID {
		split++
	}
	for _, r := range runs[split:] {
		if r != second.RunID {
			t.Fatalf("events interleaved across runs: %v", runs)
		}
	}
	if split == 0 || split == len(runs) {
		t.Errorf("expected both runs in order, got %v", runs)
	}

	hist := o.History()
	if len(hist) != 1 || hist[0].RunID != second.RunID {
		t.Errorf("History() = %+v, want the second run", hist)
	}
}

func TestResume_NotPausedIsNoop(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	req := mustRequest(t, "task", perDevice(blockUntilCancelled, nil))

	if got := o.Resume("d1"); got != nil {
		t.Errorf("Resume() with nothing registered = %v", got)
	}
	if _, err := o.Start([]string{"d1"}, req); err != nil {
		t.Fatal(err)
	}
	waitDeviceState(t, o, "d1", worker.StateRunning)
	if got := o.Resume("d1"); got != nil {
		t.Errorf("Resume() on a running device = %v, want none", got)
	}
	o.Stop("d1")
	waitIdle(t, o)
}

func TestStopResume_UnknownDevicesAreIgnored(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	if got := o.Stop("ghost", "emulator-*"); got != nil {
		t.Errorf("Stop() = %v, want none", got)
	}
	if got := o.Resume(); got != nil {
		t.Errorf("Resume() = %v, want none", got)
	}
	if _, err := o.Status("ghost"); !errors.Is(err, &fleeterrors.NotFoundError{}) {
		t.Errorf("Status() error = %v, want NotFoundError", err)
	}
}

func TestStop_Selectors(t *testing.T) {
	o, log := newTestOrchestrator(t)
	req := mustRequest(t, "task", perDevice(blockUntilCancelled, nil))
	devices := []string{"emulator-5554", "emulator-5556", "192.168.1.5:5555"}

	if _, err := o.Start(devices, req); err != nil {
		t.Fatal(err)
	}
	for _, id := range devices {
		waitDeviceState(t, o, id, worker.StateRunning)
	}

	stopped := o.Stop("emulator-*")
	if want := []string{"emulator-5554", "emulator-5556"}; !reflect.DeepEqual(stopped, want) {
		t.Errorf("Stop(emulator-*) = %v, want %v", stopped, want)
	}
	for _, id := range stopped {
		c := log.waitFor(t, id, event.TypeCancelled).(event.CancelledEvent)
		if c.Reason != "Task stopped by user." {
			t.Errorf("device %s: reason = %q", id, c.Reason)
		}
	}
	if info, err := o.Status("192.168.1.5:5555"); err != nil || info.State != worker.StateRunning {
		t.Errorf("unmatched device = %+v, %v; want running", info, err)
	}

	if got := o.Stop("192.168.1.5:5555"); !reflect.DeepEqual(got, []string{"192.168.1.5:5555"}) {
		t.Errorf("Stop(exact) = %v", got)
	}
	waitIdle(t, o)
}

func TestCrossDeviceIndependence(t *testing.T) {
	o, log := newTestOrchestrator(t)
	base := perDevice(finishWith("B done"), map[string]funcAgent{
		"A": func(ctx context.Context, cb agent.Callbacks) (string, error) {
			return "", errors.New("model endpoint unreachable")
		},
	})
	broken := func(deviceID string, m agent.ModelConfig, r agent.RunConfig, cb agent.Callbacks) (agent.Agent, error) {
		if deviceID == "C" {
			return nil, errors.New("no such device")
		}
		return base(deviceID, m, r, cb)
	}
	req := mustRequest(t, "task", broken)

	if _, err := o.Start([]string{"A", "B", "C"}, req); err != nil {
		t.Fatal(err)
	}
	waitIdle(t, o)

	states := map[string]worker.State{}
	for _, info := range o.History() {
		states[info.DeviceID] = info.State
	}
	want := map[string]worker.State{"A": worker.StateFailed, "B": worker.StateFinished, "C": worker.StateFailed}
	if !reflect.DeepEqual(states, want) {
		t.Errorf("final states = %v, want %v", states, want)
	}
	if got := log.waitFor(t, "B", event.TypeFinished).(event.FinishedEvent).Result; got != "B done" {
		t.Errorf("B result = %q", got)
	}
	for _, id := range []string{"A", "B", "C"} {
		terminal := 0
		for _, e := range log.forDevice(id) {
			if e.Terminal() {
				terminal++
			}
		}
		if terminal != 1 {
			t.Errorf("device %s: %d terminal events, want 1", id, terminal)
		}
	}
}

func TestTwoDeviceTakeover(t *testing.T) {
	o, log := newTestOrchestrator(t)
	req := mustRequest(t, "demo task", perDevice(finishWith("dev2 done"), map[string]funcAgent{
		"dev1": func(ctx context.Context, cb agent.Callbacks) (string, error) {
			cb.OnTakeover("need pin")
			if ctx.Err() != nil {
				return "", context.Cause(ctx)
			}
			return "dev1 done", nil
		},
	}))

	if _, err := o.Start([]string{"dev1", "dev2"}, req); err != nil {
		t.Fatal(err)
	}

	tk := log.waitFor(t, "dev1", event.TypeTakeover).(event.TakeoverRequestedEvent)
	if tk.Message != "need pin" {
		t.Errorf("takeover message = %q", tk.Message)
	}
	log.waitFor(t, "dev2", event.TypeFinished)

	waitDeviceState(t, o, "dev1", worker.StatePaused)
	deadline := time.Now().Add(waitTimeout)
	for {
		if _, err := o.Status("dev2"); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("dev2 was not removed after finishing")
		}
		time.Sleep(time.Millisecond)
	}

	if got := o.Resume("dev1"); !reflect.DeepEqual(got, []string{"dev1"}) {
		t.Fatalf("Resume(dev1) = %v", got)
	}
	fin := log.waitFor(t, "dev1", event.TypeFinished).(event.FinishedEvent)
	if fin.Result != "dev1 done" {
		t.Errorf("dev1 result = %q", fin.Result)
	}
	waitIdle(t, o)
	if _, err := o.Status("dev1"); err == nil {
		t.Error("dev1 should be removed after finishing")
	}
}

func TestStopWhilePaused(t *testing.T) {
	o, log := newTestOrchestrator(t)
	req := mustRequest(t, "task", perDevice(func(ctx context.Context, cb agent.Callbacks) (string, error) {
		cb.OnTakeover("captcha")
		return "", context.Cause(ctx)
	}, nil))

	if _, err := o.Start([]string{"d1"}, req); err != nil {
		t.Fatal(err)
	}
	waitDeviceState(t, o, "d1", worker.StatePaused)

	if got := o.Stop("d1"); len(got) != 1 {
		t.Fatalf("Stop() = %v", got)
	}
	log.waitFor(t, "d1", event.TypeCancelled)
	waitIdle(t, o)
}

func TestShutdown(t *testing.T) {
	o, log := newTestOrchestrator(t)
	req := mustRequest(t, "task", perDevice(blockUntilCancelled, nil))
	if _, err := o.Start([]string{"d1", "d2"}, req); err != nil {
		t.Fatal(err)
	}
	waitDeviceState(t, o, "d1", worker.StateRunning)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	for _, id := range []string{"d1", "d2"} {
		c := log.waitFor(t, id, event.TypeCancelled).(event.CancelledEvent)
		if !strings.Contains(c.Reason, "shutting down") {
			t.Errorf("device %s: reason = %q", id, c.Reason)
		}
	}
	if _, err := o.Start([]string{"d1"}, req); !errors.Is(err, fleeterrors.ErrShutdown) {
		t.Errorf("Start() after Shutdown error = %v, want ErrShutdown", err)
	}
}

func TestShutdown_ContextExpires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopGrace = time.Minute
	o := New(event.NewBus(), cfg, nil)
	log := &eventLog{}
	o.Subscribe(log.handle)
	hold := make(chan struct{})
	defer close(hold)
	req := mustRequest(t, "task", perDevice(func(ctx context.Context, cb agent.Callbacks) (string, error) {
		cb.OnEvent("thinking", map[string]any{"content": "holding"})
		<-hold
		return "", nil
	}, nil))
	if _, err := o.Start([]string{"d1"}, req); err != nil {
		t.Fatal(err)
	}
	// The agent must be inside Run, or cancellation completes before it starts.
	log.waitFor(t, "d1", event.TypeThinking)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := o.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want DeadlineExceeded", err)
	}
}

func TestMaxParallel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxParallel = 1
	o := New(event.NewBus(), cfg, nil)

	gate := make(chan struct{})
	var running, peak atomic.Int32
	req := mustRequest(t, "task", perDevice(func(ctx context.Context, cb agent.Callbacks) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-gate
		running.Add(-1)
		return "ok", nil
	}, nil))

	if _, err := o.Start([]string{"d1", "d2", "d3"}, req); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	close(gate)
	waitIdle(t, o)

	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}

	o.Reconfigure(Config{MaxParallel: 0})
	if o.slots.Limit() != 0 {
		t.Errorf("Limit() after Reconfigure = %d, want 0", o.slots.Limit())
	}
}

func TestIdle(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	select {
	case <-o.Idle():
	default:
		t.Fatal("a new orchestrator should be idle")
	}

	req := mustRequest(t, "task", perDevice(blockUntilCancelled, nil))
	if _, err := o.Start([]string{"d1"}, req); err != nil {
		t.Fatal(err)
	}
	idle := o.Idle()
	select {
	case <-idle:
		t.Fatal("Idle() closed while a worker is registered")
	default:
	}

	o.Stop("d1")
	select {
	case <-idle:
	case <-time.After(waitTimeout):
		t.Fatal("Idle() not closed after the last worker finished")
	}
}

func TestSnapshotAndUnsubscribe(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	var count atomic.Int32
	id := o.Subscribe(func(event.Event) { count.Add(1) })
	if !o.Unsubscribe(id) {
		t.Fatal("Unsubscribe() = false")
	}

	req := mustRequest(t, "task", perDevice(blockUntilCancelled, nil))
	if _, err := o.Start([]string{"b", "a"}, req); err != nil {
		t.Fatal(err)
	}
	waitDeviceState(t, o, "a", worker.StateRunning)
	waitDeviceState(t, o, "b", worker.StateRunning)

	snap := o.Snapshot()
	if len(snap) != 2 || snap[0].DeviceID != "a" || snap[1].DeviceID != "b" {
		t.Errorf("Snapshot() = %+v, want a then b", snap)
	}
	if snap[0].Task != "task" {
		t.Errorf("Task = %q", snap[0].Task)
	}

	o.Stop("*")
	waitIdle(t, o)
	if count.Load() != 0 {
		t.Errorf("unsubscribed handler received %d events", count.Load())
	}
}
