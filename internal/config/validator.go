package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"sort"
	"strings"

	"github.com/Iron-Ham/phonefleet/internal/agent"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "run.max_steps")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Upper bounds for numeric settings.
const (
	maxSteps       = 1000
	maxEventBuffer = 65536
	maxLogSizeMB   = 1000 // 1GB
	maxHistorySize = 10000
)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidAgentKinds returns the list of valid agent kinds
func ValidAgentKinds() []string {
	return []string{agent.KindExec, agent.KindScript}
}

// ValidColorModes returns the list of valid console color modes
func ValidColorModes() []string {
	return []string{"auto", "always", "never"}
}

// ValidLangs returns the list of valid model prompt languages
func ValidLangs() []string {
	return []string{agent.LangChinese, agent.LangEnglish}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, validateModel("model", c.Model)...)
	errors = append(errors, c.validateRun()...)
	errors = append(errors, c.validateAgent()...)
	errors = append(errors, c.validateOrchestrator()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateConsole()...)
	errors = append(errors, c.validateDevices()...)
	errors = append(errors, c.validateProfiles()...)

	return errors
}

// validateModel validates one model endpoint under the given field prefix
func validateModel(prefix string, m agent.ModelConfig) []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(m.BaseURL) == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".base_url",
			Value:   m.BaseURL,
			Message: "is required",
		})
	} else if u, err := url.Parse(m.BaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errors = append(errors, ValidationError{
			Field:   prefix + ".base_url",
			Value:   m.BaseURL,
			Message: "must be an absolute http(s) URL",
		})
	}

	if strings.TrimSpace(m.ModelName) == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".model_name",
			Value:   m.ModelName,
			Message: "is required",
		})
	}

	if m.Lang != "" && !slices.Contains(ValidLangs(), m.Lang) {
		errors = append(errors, ValidationError{
			Field:   prefix + ".lang",
			Value:   m.Lang,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLangs(), ", ")),
		})
	}

	return errors
}

// validateRun validates the RunConfig
func (c *Config) validateRun() []ValidationError {
	var errors []ValidationError

	if c.Run.MaxSteps <= 0 {
		errors = append(errors, ValidationError{
			Field:   "run.max_steps",
			Value:   c.Run.MaxSteps,
			Message: "must be positive",
		})
	} else if c.Run.MaxSteps > maxSteps {
		errors = append(errors, ValidationError{
			Field:   "run.max_steps",
			Value:   c.Run.MaxSteps,
			Message: fmt.Sprintf("exceeds maximum of %d", maxSteps),
		})
	}

	if c.Run.TimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "run.timeout_seconds",
			Value:   c.Run.TimeoutSeconds,
			Message: "must be non-negative (0 disables the deadline)",
		})
	}

	return errors
}

// validateAgent validates the AgentConfig
func (c *Config) validateAgent() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidAgentKinds(), c.Agent.Kind) {
		errors = append(errors, ValidationError{
			Field:   "agent.kind",
			Value:   c.Agent.Kind,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidAgentKinds(), ", ")),
		})
	}

	if c.Agent.GracePeriodMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "agent.grace_period_ms",
			Value:   c.Agent.GracePeriodMs,
			Message: "must be non-negative",
		})
	}

	for i, kv := range c.Agent.Env {
		if k, _, ok := strings.Cut(kv, "="); !ok || k == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("agent.env[%d]", i),
				Value:   kv,
				Message: "must be KEY=VALUE",
			})
		}
	}

	return errors
}

// validateOrchestrator validates the OrchestratorConfig
func (c *Config) validateOrchestrator() []ValidationError {
	var errors []ValidationError

	if c.Orchestrator.EventBuffer <= 0 || c.Orchestrator.EventBuffer > maxEventBuffer {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.event_buffer",
			Value:   c.Orchestrator.EventBuffer,
			Message: fmt.Sprintf("must be between 1 and %d", maxEventBuffer),
		})
	}

	if c.Orchestrator.StopGraceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.stop_grace_ms",
			Value:   c.Orchestrator.StopGraceMs,
			Message: "must be non-negative",
		})
	}

	if c.Orchestrator.MaxParallel < 0 {
		errors = append(errors, ValidationError{
			Field:   "orchestrator.max_parallel",
			Value:   c.Orchestrator.MaxParallel,
			Message: "must be non-negative (0 means unlimited)",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateServer validates the ServerConfig
func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if _, port, err := net.SplitHostPort(c.Server.Listen); err != nil || port == "" {
		errors = append(errors, ValidationError{
			Field:   "server.listen",
			Value:   c.Server.Listen,
			Message: "must be host:port",
		})
	}

	if c.Server.HistorySize < 0 || c.Server.HistorySize > maxHistorySize {
		errors = append(errors, ValidationError{
			Field:   "server.history_size",
			Value:   c.Server.HistorySize,
			Message: fmt.Sprintf("must be between 0 and %d", maxHistorySize),
		})
	}

	if u, err := url.Parse(c.Server.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errors = append(errors, ValidationError{
			Field:   "server.url",
			Value:   c.Server.URL,
			Message: "must be an absolute http(s) URL",
		})
	}

	if c.Server.ShutdownTimeoutMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "server.shutdown_timeout_ms",
			Value:   c.Server.ShutdownTimeoutMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateConsole validates the ConsoleConfig
func (c *Config) validateConsole() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidColorModes(), c.Console.Color) {
		errors = append(errors, ValidationError{
			Field:   "console.color",
			Value:   c.Console.Color,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidColorModes(), ", ")),
		})
	}

	if c.Console.Width < 0 {
		errors = append(errors, ValidationError{
			Field:   "console.width",
			Value:   c.Console.Width,
			Message: "must be non-negative (0 uses the terminal width)",
		})
	}

	return errors
}

// validateDevices rejects blank and duplicate default devices
func (c *Config) validateDevices() []ValidationError {
	var errors []ValidationError
	seen := make(map[string]bool)

	for i, d := range c.Devices {
		field := fmt.Sprintf("devices[%d]", i)
		switch {
		case strings.TrimSpace(d) == "":
			errors = append(errors, ValidationError{Field: field, Value: d, Message: "must not be blank"})
		case seen[d]:
			errors = append(errors, ValidationError{Field: field, Value: d, Message: "is listed twice"})
		}
		seen[d] = true
	}

	return errors
}

// validateProfiles validates every configured profile
func (c *Config) validateProfiles() []ValidationError {
	var errors []ValidationError

	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		errors = append(errors, validateModel("profiles."+name, c.Profiles[name])...)
	}

	return errors
}
