// Package worker runs one task on one device.
//
// A Worker owns the device's execution context: it builds the agent, runs
// it on its own goroutine, turns the agent's callbacks into events, parks
// the agent on a takeover gate when a human is needed, and publishes
// exactly one terminal event when the run ends.
//
// Each worker runs three goroutines:
//
//   - the agent goroutine, which builds the agent and calls Run;
//   - the pump, the only goroutine that publishes the worker's events,
//     so observers see them in order;
//   - the watchdog, which enforces the stop grace period and abandons an
//     agent that ignores cancellation.
//
// Lifecycle:
//
//	w := worker.New(deviceID, req, bus, worker.WithOnTerminal(remove))
//	w.Start()
//	w.Resume() // after a takeover
//	w.Stop()   // cooperative cancellation
//	w.Wait()
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/phonefleet/internal/agent"
	"github.com/Iron-Ham/phonefleet/internal/bridge"
	"github.com/Iron-Ham/phonefleet/internal/errors"
	"github.com/Iron-Ham/phonefleet/internal/event"
	"github.com/Iron-Ham/phonefleet/internal/logging"
	"github.com/Iron-Ham/phonefleet/internal/takeover"
)

// Operator-facing messages.
const (
	msgStoppedByUser = "Task stopped by user."
	msgShutdown      = "Task stopped: orchestrator shutting down."
)

// Publisher receives the worker's events. *event.Bus satisfies it.
type Publisher interface {
	Publish(e event.Event)
}

// Request is the per-device view of a task request. The worker never
// modifies it.
type Request struct {
	RunID   string
	Task    string
	Model   agent.ModelConfig
	Run     agent.RunConfig
	Factory agent.Factory
}

// Outcome describes how a run ended.
type Outcome struct {
	State  State
	Result string
	Err    error
}

// Info is a point-in-time view of a worker.
type Info struct {
	DeviceID  string
	RunID     string
	Task      string
	State     State
	StartedAt time.Time
	EndedAt   time.Time
	Result    string
	Error     string
	Dropped   int64
}

// Worker drives one device. All exported methods are safe for concurrent use.
type Worker struct {
	deviceID string
	req      Request
	publish  Publisher
	logger   *logging.Logger

	gate   *takeover.Gate
	bridge *bridge.Bridge

	ctx    context.Context
	cancel context.CancelCauseFunc

	// outMu guards sends on events, its closing, and reported.
	outMu    sync.Mutex
	events   chan event.DeviceEvent
	closed   bool
	reported string

	mu        sync.Mutex
	state     State
	started   bool
	outcome   Outcome
	startedAt time.Time
	endedAt   time.Time

	runDone chan struct{}
	done    chan struct{}
	wg      conc.WaitGroup

	predecessor <-chan struct{}
	onTerminal  func(*Worker)
	stopGrace   time.Duration
	slots       *Slots
}

// New creates a worker for deviceID. The worker does nothing until Start.
// A nil publisher or factory panics to surface wiring bugs early.
func New(deviceID string, req Request, publish Publisher, opts ...Option) *Worker {
	if publish == nil {
		panic("worker: Publisher must not be nil")
	}
	if req.Factory == nil {
		panic("worker: agent Factory must not be nil")
	}

	cfg := &config{
		logger:      logging.NopLogger(),
		eventBuffer: DefaultEventBuffer,
		stopGrace:   DefaultStopGrace,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}
	if cfg.eventBuffer <= 0 {
		cfg.eventBuffer = DefaultEventBuffer
	}
	if cfg.stopGrace <= 0 {
		cfg.stopGrace = DefaultStopGrace
	}

	req.Run = req.Run.ForDevice(deviceID)
	ctx, cancel := context.WithCancelCause(context.Background())

	w := &Worker{
		deviceID:    deviceID,
		req:         req,
		publish:     publish,
		logger:      cfg.logger.WithComponent("worker").WithRun(req.RunID).WithDevice(deviceID),
		ctx:         ctx,
		cancel:      cancel,
		events:      make(chan event.DeviceEvent, cfg.eventBuffer),
		state:       StateStarting,
		runDone:     make(chan struct{}),
		done:        make(chan struct{}),
		predecessor: cfg.predecessor,
		onTerminal:  cfg.onTerminal,
		stopGrace:   cfg.stopGrace,
		slots:       cfg.slots,
	}
	w.gate = takeover.New(w.announceTakeover)
	w.bridge = bridge.New(deviceID, req.RunID, w, bridge.WithLogger(w.logger))
	return w
}

// DeviceID returns the device this worker drives.
func (w *Worker) DeviceID() string { return w.deviceID }

// RunID returns the run this worker belongs to.
func (w *Worker) RunID() string { return w.req.RunID }

// Start launches the agent goroutine, the event pump and the watchdog.
// It returns immediately.
func (w *Worker) Start() error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.startedAt = time.Now()
	w.mu.Unlock()

	var deadline *time.Timer
	if t := w.req.Run.Timeout; t > 0 {
		deadline = time.AfterFunc(t, func() {
			w.logger.Warn("run deadline exceeded", "timeout", t.String())
			w.gate.ForceRelease()
			w.cancel(fmt.Errorf("%w after %s", errors.ErrRunTimeout, t))
		})
	}

	w.wg.Go(w.pump)
	w.wg.Go(w.watchdog)
	go w.runAgent(deadline)
	return nil
}

// runAgent is the agent goroutine. If the worker was already finalized by
// the watchdog, the late return is only logged.
func (w *Worker) runAgent(deadline *time.Timer) {
	defer close(w.runDone)
	if deadline != nil {
		defer deadline.Stop()
	}

	if w.slots != nil {
		if err := w.slots.Acquire(w.ctx); err != nil {
			w.finishCancelled()
			return
		}
		defer w.slots.Release()
	}
	if w.ctx.Err() != nil {
		w.finishCancelled()
		return
	}

	_ = w.send(event.NewLogEvent(w.deviceID, w.req.RunID, "Task started: "+w.req.Task))

	cb := agent.Callbacks{
		OnEvent:    w.bridge.Handle,
		OnTakeover: w.handleTakeover,
	}
	ag, err := w.req.Factory(w.deviceID, w.req.Model, w.req.Run, cb)
	if err != nil {
		cfgErr := errors.NewConfigurationError("create agent", err).WithDeviceID(w.deviceID)
		w.logger.Error("agent construction failed", "error", cfgErr)
		w.finish(Outcome{State: StateFailed, Err: cfgErr},
			event.NewErrorEvent(w.deviceID, w.req.RunID, cfgErr.Error(), true))
		return
	}

	w.setState(StateRunning)
	w.logger.Info("agent started", "max_steps", w.req.Run.MaxSteps, "model", w.req.Model.ModelName)

	var result string
	var runErr error
	var pc panics.Catcher
	pc.Try(func() {
		result, runErr = ag.Run(w.ctx, w.req.Task)
	})
	if r := pc.Recovered(); r != nil {
		runErr = errors.NewAgentRuntimeError("run", fmt.Errorf("%w: %v", errors.ErrAgentPanic, r.Value)).
			WithDeviceID(w.deviceID).
			WithStack(string(r.Stack))
	}

	if !w.complete(result, runErr) {
		w.logger.Warn("abandoned agent returned after finalization", "error", runErr)
	}
	// Release the context now that nothing else observes it.
	w.cancel(context.Canceled)
}

// complete maps the agent's return to the terminal event.
func (w *Worker) complete(result string, runErr error) bool {
	cause := context.Cause(w.ctx)
	switch {
	case errors.Is(cause, errors.ErrStopped), errors.Is(cause, errors.ErrShutdown):
		return w.finishCancelled()

	case runErr == nil:
		if result == "" {
			w.outMu.Lock()
			result = w.reported
			w.outMu.Unlock()
		}
		w.logger.Info("agent finished", "result", result)
		return w.finish(Outcome{State: StateFinished, Result: result},
			event.NewFinishedEvent(w.deviceID, w.req.RunID, result))

	case errors.Is(cause, errors.ErrRunTimeout):
		return w.finishCancelled()

	default:
		var rtErr *errors.AgentRuntimeError
		if !errors.As(runErr, &rtErr) {
			rtErr = errors.NewAgentRuntimeError("agent run failed", runErr).WithDeviceID(w.deviceID)
		}
		w.logger.Error("agent failed", "error", rtErr)
		return w.finish(Outcome{State: StateFailed, Err: rtErr},
			event.NewErrorEvent(w.deviceID, w.req.RunID, runErr.Error(), true))
	}
}

// finishCancelled finalizes the worker according to the context's cause:
// a deadline fails the run, anything else cancels it.
func (w *Worker) finishCancelled() bool {
	cause := context.Cause(w.ctx)
	switch {
	case errors.Is(cause, errors.ErrRunTimeout):
		return w.finish(Outcome{State: StateFailed, Err: cause},
			event.NewErrorEvent(w.deviceID, w.req.RunID, cause.Error(), true))
	case errors.Is(cause, errors.ErrShutdown):
		return w.finish(Outcome{State: StateCancelled, Err: cause},
			event.NewCancelledEvent(w.deviceID, w.req.RunID, msgShutdown))
	default:
		w.logger.Info("run cancelled")
		return w.finish(Outcome{State: StateCancelled, Err: errors.ErrStopped},
			event.NewCancelledEvent(w.deviceID, w.req.RunID, msgStoppedByUser))
	}
}

// finish records the outcome, queues the terminal event and closes the
// event channel. Only the first call has any effect.
func (w *Worker) finish(out Outcome, terminal event.DeviceEvent) bool {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	if w.closed {
		return false
	}
	w.closed = true

	w.mu.Lock()
	w.state = out.State
	w.outcome = out
	w.endedAt = time.Now()
	w.mu.Unlock()

	w.events <- terminal
	close(w.events)
	return true
}

// TryEmit implements bridge.Outbox. A finished event is held back: its
// result is used when Run returns an empty result, and the worker emits
// the terminal event itself.
func (w *Worker) TryEmit(e event.DeviceEvent) error {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	if w.closed {
		return errors.ErrOutboxClosed
	}
	if fe, ok := e.(event.FinishedEvent); ok {
		w.reported = fe.Result
		return nil
	}
	select {
	case w.events <- e:
		return nil
	default:
		return errors.ErrOutboxFull
	}
}

// send queues a worker-originated event, waiting for buffer space.
func (w *Worker) send(e event.DeviceEvent) error {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	if w.closed {
		return errors.ErrOutboxClosed
	}
	w.events <- e
	return nil
}

// Notice queues an event on behalf of another component behind everything
// the device has emitted so far. Once the worker has ended, the event is
// published after the terminal event.
func (w *Worker) Notice(e event.DeviceEvent) {
	if err := w.send(e); err == nil {
		return
	}
	go func() {
		<-w.done
		w.publish.Publish(e)
	}()
}

// handleTakeover is the agent's OnTakeover callback.
func (w *Worker) handleTakeover(message string) {
	outcome := w.gate.Park(message)
	w.logger.Info("takeover ended", "outcome", outcome.String())
}

// announceTakeover runs after the gate became Parked and before the agent
// goroutine blocks.
func (w *Worker) announceTakeover(message string) {
	w.logger.Info("takeover requested", "message", message)
	if err := w.send(event.NewTakeoverRequestedEvent(w.deviceID, w.req.RunID, message)); err != nil {
		w.logger.Debug("takeover event dropped", "error", err)
	}
}

// pump publishes the worker's events in order, then runs the terminal hook.
func (w *Worker) pump() {
	defer close(w.done)

	if w.predecessor != nil {
		<-w.predecessor
	}
	for ev := range w.events {
		w.publish.Publish(ev)
	}
	if w.onTerminal != nil {
		w.onTerminal(w)
	}
}

// watchdog waits for cancellation and then gives the agent stopGrace to
// return. An agent that does not is abandoned and the worker finalized.
func (w *Worker) watchdog() {
	select {
	case <-w.runDone:
		return
	case <-w.ctx.Done():
	}

	w.gate.ForceRelease()

	timer := time.NewTimer(w.stopGrace)
	defer timer.Stop()
	select {
	case <-w.runDone:
		return
	case <-timer.C:
	}

	if w.finishCancelled() {
		w.logger.Warn("agent ignored cancellation; abandoning it", "grace", w.stopGrace.String())
	}
}

// Stop requests cancellation with cause ErrStopped. It reports whether the
// worker was still live.
func (w *Worker) Stop() bool {
	return w.Cancel(errors.ErrStopped)
}

// Cancel force-releases the takeover gate and cancels the run context with
// cause. It reports whether the worker was still live.
func (w *Worker) Cancel(cause error) bool {
	if w.State().IsTerminal() {
		return false
	}
	w.gate.ForceRelease()
	w.cancel(cause)
	return true
}

// Resume wakes the agent if it is parked for a takeover. It reports
// whether the agent was woken.
func (w *Worker) Resume() bool {
	if w.State() != StatePaused {
		return false
	}
	return w.gate.Signal()
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.state.IsTerminal() {
		w.state = s
	}
}

// State returns the current state. Paused is reported while the agent is
// parked on the takeover gate.
func (w *Worker) State() State {
	w.mu.Lock()
	s := w.state
	w.mu.Unlock()
	if s == StateRunning && w.gate.State() == takeover.Parked {
		return StatePaused
	}
	return s
}

// Outcome returns the terminal outcome and whether the worker has one.
func (w *Worker) Outcome() (Outcome, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome, w.state.IsTerminal()
}

// Info returns a snapshot of the worker.
func (w *Worker) Info() Info {
	state := w.State()
	w.mu.Lock()
	defer w.mu.Unlock()
	info := Info{
		DeviceID:  w.deviceID,
		RunID:     w.req.RunID,
		Task:      w.req.Task,
		State:     state,
		StartedAt: w.startedAt,
		EndedAt:   w.endedAt,
		Result:    w.outcome.Result,
		Dropped:   w.bridge.Dropped(),
	}
	if w.outcome.Err != nil {
		info.Error = w.outcome.Err.Error()
	}
	return info
}

// Done is closed after the terminal event was published and the terminal
// hook returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the pump and the watchdog have returned. An abandoned
// agent goroutine is not waited for.
func (w *Worker) Wait() {
	w.wg.Wait()
}
