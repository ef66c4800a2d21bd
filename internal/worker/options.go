package worker

import (
	"time"

	"github.com/Iron-Ham/phonefleet/internal/logging"
)

// Defaults applied when options are absent or invalid.
const (
	DefaultEventBuffer = 256
	DefaultStopGrace   = 5 * time.Second
)

// Option configures a Worker.
type Option func(*config)

type config struct {
	logger      *logging.Logger
	eventBuffer int
	stopGrace   time.Duration
	predecessor <-chan struct{}
	onTerminal  func(*Worker)
	slots       *Slots
}

// WithLogger sets the logger for the worker.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithEventBuffer sets the capacity of the per-worker event channel.
// A zero or negative value is replaced with the default (256).
func WithEventBuffer(n int) Option {
	return func(c *config) {
		c.eventBuffer = n
	}
}

// WithStopGrace sets how long a cancelled agent may take to return before
// the worker is finalized without it.
// A zero or negative value is replaced with the default (5s).
func WithStopGrace(d time.Duration) Option {
	return func(c *config) {
		c.stopGrace = d
	}
}

// WithPredecessor makes the worker hold its events until done is closed.
// It is used when a device is restarted before the previous worker's
// terminal event has been delivered.
func WithPredecessor(done <-chan struct{}) Option {
	return func(c *config) {
		c.predecessor = done
	}
}

// WithOnTerminal registers a hook called on the pump goroutine after the
// terminal event has been published.
func WithOnTerminal(fn func(*Worker)) Option {
	return func(c *config) {
		c.onTerminal = fn
	}
}

// WithSlots makes the worker hold a slot of s while its agent runs.
func WithSlots(s *Slots) Option {
	return func(c *config) {
		c.slots = s
	}
}
