package bridge

import (
	"github.com/Iron-Ham/phonefleet/internal/logging"
)

// Option configures a Bridge.
type Option func(*config)

type config struct {
	logger *logging.Logger
	onDrop func(error)
}

// WithLogger sets the logger used for drop warnings.
func WithLogger(logger *logging.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithDropHook registers a function called with every BridgeDropError.
func WithDropHook(fn func(error)) Option {
	return func(c *config) {
		c.onDrop = fn
	}
}
