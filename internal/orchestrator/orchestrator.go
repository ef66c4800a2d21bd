package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/phonefleet/internal/errors"
	"github.com/Iron-Ham/phonefleet/internal/event"
	"github.com/Iron-Ham/phonefleet/internal/logging"
	"github.com/Iron-Ham/phonefleet/internal/worker"
)

// Config holds the orchestrator settings applied to newly started workers.
type Config struct {
	// EventBuffer is the capacity of each worker's event channel.
	EventBuffer int

	// StopGrace is how long a cancelled agent may take to return.
	StopGrace time.Duration

	// MaxParallel caps the number of agents running at once. Zero means
	// no cap; devices over the cap wait in the starting state.
	MaxParallel int
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		EventBuffer: worker.DefaultEventBuffer,
		StopGrace:   worker.DefaultStopGrace,
		MaxParallel: 0,
	}
}

// StartReport describes what a Start call did.
type StartReport struct {
	RunID   string   `json:"run_id"`
	Started []string `json:"started"`
	Busy    []string `json:"busy,omitempty"`
}

// Orchestrator is the device-keyed registry of workers.
type Orchestrator struct {
	bus    *event.Bus
	logger *logging.Logger
	slots  *worker.Slots

	mu      sync.Mutex
	cfg     Config
	workers map[string]*worker.Worker
	last    map[string]worker.Info
	idle    chan struct{}
	closed  bool
}

// New creates an Orchestrator publishing on bus.
func New(bus *event.Bus, cfg Config, logger *logging.Logger) *Orchestrator {
	if bus == nil {
		panic("orchestrator: bus must not be nil")
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	idle := make(chan struct{})
	close(idle)
	return &Orchestrator{
		bus:     bus,
		logger:  logger.WithComponent("orchestrator"),
		slots:   worker.NewSlots(cfg.MaxParallel),
		cfg:     cfg,
		workers: make(map[string]*worker.Worker),
		last:    make(map[string]worker.Info),
		idle:    idle,
	}
}

// Start launches req on every free device in deviceIDs. IDs are trimmed
// and deduplicated; blanks are skipped. Busy devices get a log event and
// are listed in the report. Start does not wait for any agent.
func (o *Orchestrator) Start(deviceIDs []string, req TaskRequest) (StartReport, error) {
	ids := normalizeIDs(deviceIDs)
	if len(ids) == 0 {
		return StartReport{}, errors.ErrNoDevices
	}
	if req.factory == nil {
		return StartReport{}, errors.NewConfigurationError("start", errors.New("task request was not built with NewTaskRequest"))
	}

	report := StartReport{RunID: uuid.NewString()}
	logger := o.logger.WithRun(report.RunID)
	var launch, busy []*worker.Worker

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return StartReport{}, errors.ErrShutdown
	}
	for _, id := range ids {
		prev, exists := o.workers[id]
		if exists {
			out, done := prev.Outcome()
			if !done {
				busy = append(busy, prev)
				report.Busy = append(report.Busy, id)
				continue
			}
			logger.Debug("replacing finished worker", logging.KeyDeviceID, id, "state", out.State.String())
		}

		opts := o.workerOptionsLocked(logger)
		if exists {
			opts = append(opts, worker.WithPredecessor(prev.Done()))
		}
		w := worker.New(id, req.forRun(report.RunID), o.bus, opts...)
		if len(o.workers) == 0 {
			o.idle = make(chan struct{})
		}
		o.workers[id] = w
		launch = append(launch, w)
		report.Started = append(report.Started, id)
	}
	o.mu.Unlock()

	for _, prev := range busy {
		busyErr := errors.NewBusyError(prev.DeviceID(), prev.State().String())
		logger.Info("device busy", logging.KeyDeviceID, prev.DeviceID(), "error", busyErr)
		prev.Notice(event.NewLogEvent(prev.DeviceID(), report.RunID, busyErr.Error()))
	}
	for _, w := range launch {
		if err := w.Start(); err != nil {
			logger.Error("worker start failed", logging.KeyDeviceID, w.DeviceID(), "error", err)
		}
	}

	logger.Info("run started",
		"task", req.task,
		"started", len(report.Started),
		"busy", len(report.Busy),
	)
	return report, nil
}

func (o *Orchestrator) workerOptionsLocked(logger *logging.Logger) []worker.Option {
	return []worker.Option{
		worker.WithLogger(logger),
		worker.WithEventBuffer(o.cfg.EventBuffer),
		worker.WithStopGrace(o.cfg.StopGrace),
		worker.WithSlots(o.slots),
		worker.WithOnTerminal(o.onTerminal),
	}
}

// onTerminal runs on the worker's pump after its terminal event was
// published. Only the registered worker for the device is removed, so a
// replacement started in the meantime stays.
func (o *Orchestrator) onTerminal(w *worker.Worker) {
	info := w.Info()

	o.mu.Lock()
	removed := false
	if cur, ok := o.workers[w.DeviceID()]; ok && cur == w {
		delete(o.workers, w.DeviceID())
		removed = true
	}
	o.last[w.DeviceID()] = info
	if len(o.workers) == 0 {
		select {
		case <-o.idle:
		default:
			close(o.idle)
		}
	}
	o.mu.Unlock()

	o.logger.Info("worker finished",
		logging.KeyRunID, info.RunID,
		logging.KeyDeviceID, info.DeviceID,
		"state", info.State.String(),
		"removed", removed,
		"dropped_events", info.Dropped,
	)
}

// matching returns the registered workers whose device matches sels,
// ordered by device ID.
func (o *Orchestrator) matching(sels []string) []*worker.Worker {
	sel := NewSelector(sels)
	if sel.Empty() {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*worker.Worker
	for id, w := range o.workers {
		if sel.Match(id) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID() < out[j].DeviceID() })
	return out
}

// Stop cancels every live worker matching selectors and returns the
// devices it stopped. Unknown devices are ignored.
func (o *Orchestrator) Stop(selectors ...string) []string {
	var stopped []string
	for _, w := range o.matching(selectors) {
		if w.Stop() {
			stopped = append(stopped, w.DeviceID())
		}
	}
	if len(stopped) > 0 {
		o.logger.Info("stop requested", "devices", stopped)
	}
	return stopped
}

// Resume wakes every paused worker matching selectors and returns the
// devices it resumed. Workers that are not paused are left alone.
func (o *Orchestrator) Resume(selectors ...string) []string {
	var resumed []string
	for _, w := range o.matching(selectors) {
		if w.Resume() {
			resumed = append(resumed, w.DeviceID())
		}
	}
	if len(resumed) > 0 {
		o.logger.Info("resume requested", "devices", resumed)
	}
	return resumed
}

// Snapshot returns the registered workers ordered by device ID.
func (o *Orchestrator) Snapshot() []worker.Info {
	o.mu.Lock()
	ws := make([]*worker.Worker, 0, len(o.workers))
	for _, w := range o.workers {
		ws = append(ws, w)
	}
	o.mu.Unlock()

	out := make([]worker.Info, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// History returns the last terminal state of every device that ran,
// ordered by device ID.
func (o *Orchestrator) History() []worker.Info {
	o.mu.Lock()
	out := make([]worker.Info, 0, len(o.last))
	for _, info := range o.last {
		out = append(out, info)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Status returns the registered worker for deviceID.
func (o *Orchestrator) Status(deviceID string) (worker.Info, error) {
	o.mu.Lock()
	w, ok := o.workers[deviceID]
	o.mu.Unlock()
	if !ok {
		return worker.Info{}, errors.NewNotFoundError("device", deviceID)
	}
	return w.Info(), nil
}

// Subscribe registers h for every event and returns its subscription ID.
func (o *Orchestrator) Subscribe(h event.Handler) string {
	return o.bus.SubscribeAll(h)
}

// Unsubscribe removes a subscription made with Subscribe.
func (o *Orchestrator) Unsubscribe(id string) bool {
	return o.bus.Unsubscribe(id)
}

// Idle returns a channel closed when no worker is registered. Each call
// returns the channel for the current busy period.
func (o *Orchestrator) Idle() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.idle
}

// Reconfigure applies cfg to workers started from now on. Running workers
// keep their settings; the parallelism cap applies immediately.
func (o *Orchestrator) Reconfigure(cfg Config) {
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
	o.slots.SetLimit(cfg.MaxParallel)
	o.logger.Info("configuration applied",
		"event_buffer", cfg.EventBuffer,
		"stop_grace", cfg.StopGrace.String(),
		"max_parallel", cfg.MaxParallel,
	)
}

// Shutdown refuses new runs, cancels every worker and waits until all of
// them delivered their terminal event or ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	ws := make([]*worker.Worker, 0, len(o.workers))
	for _, w := range o.workers {
		ws = append(ws, w)
	}
	idle := o.idle
	o.mu.Unlock()

	for _, w := range ws {
		w.Cancel(errors.ErrShutdown)
	}
	o.logger.Info("shutting down", "workers", len(ws))

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
