// Package agent defines the boundary between phonefleet and the
// decision-making agents that drive devices, and ships two agent kinds:
// a YAML-scripted agent for rehearsals and tests, and an exec agent that
// runs an external agent process speaking JSON lines.
//
// An agent is constructed per device with a model configuration, a run
// configuration and two callbacks. Its Run call blocks until the task is
// done; progress is reported through Callbacks.OnEvent and manual takeover
// requests through Callbacks.OnTakeover, which blocks until the operator
// resumes the device or the run is cancelled.
package agent

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Callbacks are supplied by the worker that owns the agent.
type Callbacks struct {
	// OnEvent reports progress. It never blocks.
	OnEvent func(eventType string, data map[string]any)
	// OnTakeover asks a human to take over the device and blocks until the
	// operator resumes it or the run is cancelled. Agents should check their
	// context after it returns.
	OnTakeover func(message string)
}

// Agent drives one device through one task.
type Agent interface {
	Run(ctx context.Context, task string) (string, error)
}

// Factory constructs an agent for one device. Errors are configuration
// errors and are not retried.
type Factory func(deviceID string, model ModelConfig, run RunConfig, cb Callbacks) (Agent, error)

// Supported model prompt languages.
const (
	LangChinese = "cn"
	LangEnglish = "en"
)

// ModelConfig describes the model endpoint the agent talks to.
type ModelConfig struct {
	BaseURL   string `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
	APIKey    string `mapstructure:"api_key" json:"api_key,omitempty" yaml:"api_key"`
	ModelName string `mapstructure:"model_name" json:"model_name" yaml:"model_name"`
	Lang      string `mapstructure:"lang" json:"lang,omitempty" yaml:"lang"`
}

// Validate checks that the model endpoint is usable.
func (m ModelConfig) Validate() error {
	if strings.TrimSpace(m.BaseURL) == "" {
		return fmt.Errorf("model base_url is required")
	}
	u, err := url.Parse(m.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("model base_url %q is not an absolute URL", m.BaseURL)
	}
	if strings.TrimSpace(m.ModelName) == "" {
		return fmt.Errorf("model model_name is required")
	}
	switch m.Lang {
	case "", LangChinese, LangEnglish:
	default:
		return fmt.Errorf("model lang %q must be %q or %q", m.Lang, LangChinese, LangEnglish)
	}
	return nil
}

// WithDefaults fills the language when unset.
func (m ModelConfig) WithDefaults() ModelConfig {
	if m.Lang == "" {
		m.Lang = LangChinese
	}
	return m
}

// Redacted returns a copy safe to log or display.
func (m ModelConfig) Redacted() ModelConfig {
	if m.APIKey != "" && m.APIKey != "EMPTY" {
		m.APIKey = "***"
	}
	return m
}

// DefaultMaxSteps bounds an agent's action count when none is configured.
const DefaultMaxSteps = 50

// RunConfig bounds one agent run.
type RunConfig struct {
	MaxSteps int
	Verbose  bool
	// Timeout is the run deadline. Zero disables it.
	Timeout time.Duration
	// DeviceID is filled per worker; a shared request never carries one.
	DeviceID string
}

// Validate checks the run bounds.
func (r RunConfig) Validate() error {
	if r.MaxSteps <= 0 {
		return fmt.Errorf("run max_steps must be positive, got %d", r.MaxSteps)
	}
	if r.Timeout < 0 {
		return fmt.Errorf("run timeout must not be negative, got %s", r.Timeout)
	}
	return nil
}

// ForDevice returns a copy of r bound to deviceID.
func (r RunConfig) ForDevice(deviceID string) RunConfig {
	r.DeviceID = deviceID
	return r
}

// emit reports through cb.OnEvent when set.
func (cb Callbacks) emit(eventType string, data map[string]any) {
	if cb.OnEvent != nil {
		cb.OnEvent(eventType, data)
	}
}

// takeover calls cb.OnTakeover when set.
func (cb Callbacks) takeover(message string) {
	if cb.OnTakeover != nil {
		cb.OnTakeover(message)
	}
}
