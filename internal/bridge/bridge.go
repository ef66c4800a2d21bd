package bridge

import (
	"fmt"
	"sync/atomic"

	"github.com/Iron-Ham/phonefleet/internal/errors"
	"github.com/Iron-Ham/phonefleet/internal/event"
	"github.com/Iron-Ham/phonefleet/internal/logging"
)

// Outbox accepts events on behalf of one worker.
type Outbox interface {
	// TryEmit offers e without blocking. It returns ErrOutboxFull when the
	// buffer has no room and ErrOutboxClosed after the worker finished.
	TryEmit(e event.DeviceEvent) error
}

// Bridge is the progress callback for one agent run.
type Bridge struct {
	deviceID string
	runID    string
	outbox   Outbox
	logger   *logging.Logger
	onDrop   func(error)

	delivered atomic.Int64
	dropped   atomic.Int64
}

// New creates a Bridge that stamps events with deviceID and runID and
// forwards them to outbox. A nil outbox panics to surface wiring bugs.
func New(deviceID, runID string, outbox Outbox, opts ...Option) *Bridge {
	if outbox == nil {
		panic("bridge: Outbox must not be nil")
	}

	cfg := &config{logger: logging.NopLogger()}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NopLogger()
	}

	return &Bridge{
		deviceID: deviceID,
		runID:    runID,
		outbox:   outbox,
		logger:   cfg.logger.WithComponent("bridge"),
		onDrop:   cfg.onDrop,
	}
}

// Handle is the agent's OnEvent callback. It never blocks and never panics.
func (b *Bridge) Handle(eventType string, data map[string]any) {
	if err := b.deliver(eventType, data); err != nil {
		b.drop(eventType, err)
		return
	}
	b.delivered.Add(1)
}

// deliver translates and emits, converting panics into errors.
func (b *Bridge) deliver(eventType string, data map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bridge panicked: %v", r)
		}
	}()
	ev, err := Translate(b.deviceID, b.runID, eventType, data)
	if err != nil {
		return err
	}
	return b.outbox.TryEmit(ev)
}

func (b *Bridge) drop(eventType string, cause error) {
	b.dropped.Add(1)
	dropErr := errors.NewBridgeDropError(eventType, cause).WithDeviceID(b.deviceID)

	// A closed outbox after the terminal event is expected for late
	// callbacks from an abandoned agent.
	if errors.Is(cause, errors.ErrOutboxClosed) {
		b.logger.Debug("dropped late agent event", "event_type", eventType)
	} else {
		b.logger.Warn("dropped agent event", "event_type", eventType, "error", dropErr)
	}
	if b.onDrop != nil {
		b.onDrop(dropErr)
	}
}

// Delivered returns the number of events accepted by the outbox.
func (b *Bridge) Delivered() int64 {
	return b.delivered.Load()
}

// Dropped returns the number of callbacks that were not delivered.
func (b *Bridge) Dropped() int64 {
	return b.dropped.Load()
}
