// Package errors provides centralized error definitions and error handling
// utilities for phonefleet. It defines the sentinels shared by the
// orchestrator, its workers and the agent boundary, the typed error taxonomy
// used to classify per-device failures, and classification helpers.
//
// # Error Types
//
// Per-device failures fall into four categories:
//   - ConfigurationError: the model or run configuration could not build an
//     agent. Never retried; the worker fails immediately.
//   - AgentRuntimeError: the agent's Run returned an error or panicked.
//   - BusyError: a start was requested for a device that already has a live
//     worker. Reported to observers as a log event, never returned.
//   - BridgeDropError: an agent callback could not be delivered (unknown
//     event type, full or closed outbox). Logged locally only.
//
// NotFoundError covers lookups of named resources (profiles, agent kinds).
//
// # Usage
//
//	err := errors.NewConfigurationError("build agent", cause).WithDeviceID("emulator-5554")
//
//	var cfgErr *errors.ConfigurationError
//	if errors.As(err, &cfgErr) { ... }
//
//	if errors.Is(err, errors.ErrStopped) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Orchestration sentinel errors
var (
	// ErrDeviceBusy indicates that a device already has a live worker.
	ErrDeviceBusy = New("device busy")
	// ErrEmptyTask indicates that a task request carried no task text.
	ErrEmptyTask = New("task is empty")
	// ErrNoDevices indicates that a start request named no devices.
	ErrNoDevices = New("no devices selected")
)

// Execution sentinel errors. ErrStopped and ErrRunTimeout are used as
// context cancellation causes so workers can tell why a run ended.
var (
	// ErrStopped indicates that an operator stopped the device's run.
	ErrStopped = New("stopped by operator")
	// ErrRunTimeout indicates that a run exceeded its configured deadline.
	ErrRunTimeout = New("run deadline exceeded")
	// ErrShutdown indicates that the orchestrator is shutting down.
	ErrShutdown = New("orchestrator shutting down")
	// ErrAgentPanic indicates that the agent panicked inside Run.
	ErrAgentPanic = New("agent panicked")
)

// Bridge sentinel errors
var (
	// ErrUnknownEventType indicates an agent callback with an unmapped type.
	ErrUnknownEventType = New("unknown event type")
	// ErrOutboxFull indicates the worker's event buffer had no room.
	ErrOutboxFull = New("event outbox full")
	// ErrOutboxClosed indicates the worker already published its terminal event.
	ErrOutboxClosed = New("event outbox closed")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// FleetError is the base interface for all phonefleet errors.
type FleetError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
	deviceID   string
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// DeviceID returns the device the error is attributed to, if any.
func (e *baseError) DeviceID() string { return e.deviceID }

// format renders "<kind> [device=x]: message: cause".
func (e *baseError) format(kind string) string {
	prefix := kind
	if e.deviceID != "" {
		prefix = fmt.Sprintf("%s [device=%s]", kind, e.deviceID)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Per-device Errors
// -----------------------------------------------------------------------------

// ConfigurationError reports a model or run configuration that could not
// produce an agent. Configuration errors are never retried.
//
// Example:
//
//	err := errors.NewConfigurationError("unknown agent kind", cause).WithDeviceID("emulator-5554")
//	fmt.Println(err) // "configuration error [device=emulator-5554]: unknown agent kind: ..."
type ConfigurationError struct {
	baseError
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{baseError{
		message:    message,
		cause:      cause,
		severity:   SeverityError,
		userFacing: true,
	}}
}

// WithDeviceID adds a device ID to the error context.
func (e *ConfigurationError) WithDeviceID(id string) *ConfigurationError {
	e.deviceID = id
	return e
}

func (e *ConfigurationError) Error() string { return e.format("configuration error") }

// Is matches any *ConfigurationError as well as the wrapped cause.
func (e *ConfigurationError) Is(target error) bool {
	if _, ok := target.(*ConfigurationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AgentRuntimeError reports an error returned by, or a panic raised from,
// an agent's Run call.
type AgentRuntimeError struct {
	baseError
	// Stack holds the recovered goroutine stack when the agent panicked.
	Stack string
}

// NewAgentRuntimeError creates a new AgentRuntimeError.
func NewAgentRuntimeError(message string, cause error) *AgentRuntimeError {
	return &AgentRuntimeError{baseError: baseError{
		message:    message,
		cause:      cause,
		severity:   SeverityError,
		userFacing: true,
	}}
}

// WithDeviceID adds a device ID to the error context.
func (e *AgentRuntimeError) WithDeviceID(id string) *AgentRuntimeError {
	e.deviceID = id
	return e
}

// WithStack attaches a recovered panic stack.
func (e *AgentRuntimeError) WithStack(stack string) *AgentRuntimeError {
	e.Stack = stack
	e.severity = SeverityCritical
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *AgentRuntimeError) WithRetryable(r bool) *AgentRuntimeError {
	e.retryable = r
	return e
}

func (e *AgentRuntimeError) Error() string { return e.format("agent error") }

// Is matches any *AgentRuntimeError as well as the wrapped cause.
func (e *AgentRuntimeError) Is(target error) bool {
	if _, ok := target.(*AgentRuntimeError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// BusyError reports a start request for a device that still has a live
// worker. It is an expected race between an operator's view and the
// registry, so it is informational.
type BusyError struct {
	baseError
	// State is the lifecycle state of the worker that blocked the start.
	State string
}

// NewBusyError creates a BusyError for the given device.
func NewBusyError(deviceID, state string) *BusyError {
	return &BusyError{
		baseError: baseError{
			message:    "busy, skipping",
			cause:      ErrDeviceBusy,
			severity:   SeverityInfo,
			userFacing: true,
			deviceID:   deviceID,
		},
		State: state,
	}
}

func (e *BusyError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("device %s busy (%s), skipping", e.deviceID, e.State)
	}
	return fmt.Sprintf("device %s busy, skipping", e.deviceID)
}

// Is matches any *BusyError as well as ErrDeviceBusy.
func (e *BusyError) Is(target error) bool {
	if _, ok := target.(*BusyError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// BridgeDropError reports an agent callback that was not delivered to
// observers. It is never surfaced outside the worker.
type BridgeDropError struct {
	baseError
	// EventType is the raw event type the agent reported.
	EventType string
}

// NewBridgeDropError creates a BridgeDropError.
func NewBridgeDropError(eventType string, cause error) *BridgeDropError {
	return &BridgeDropError{
		baseError: baseError{
			message:  "dropped agent event",
			cause:    cause,
			severity: SeverityWarning,
		},
		EventType: eventType,
	}
}

// WithDeviceID adds a device ID to the error context.
func (e *BridgeDropError) WithDeviceID(id string) *BridgeDropError {
	e.deviceID = id
	return e
}

func (e *BridgeDropError) Error() string {
	var parts []string
	if e.deviceID != "" {
		parts = append(parts, "device="+e.deviceID)
	}
	if e.EventType != "" {
		parts = append(parts, "type="+e.EventType)
	}
	prefix := "bridge drop"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("bridge drop [%s]", strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is matches any *BridgeDropError as well as the wrapped cause.
func (e *BridgeDropError) Is(target error) bool {
	if _, ok := target.(*BridgeDropError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a named resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("profile", "Zhipu")
//	fmt.Println(err) // "profile 'Zhipu' not found"
type NotFoundError struct {
	ResourceType string
	ResourceID   string
	cause        error
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

func (e *NotFoundError) Unwrap() error { return e.cause }

// Is matches any *NotFoundError.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// -----------------------------------------------------------------------------
// Error Classification
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error is transient. Configuration errors
// are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fleetErr FleetError
	if As(err, &fleetErr) {
		return fleetErr.IsRetryable()
	}
	return Is(err, ErrRunTimeout)
}

// IsUserFacing returns true if the error message is safe to show operators.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var fleetErr FleetError
	if As(err, &fleetErr) {
		return fleetErr.IsUserFacing()
	}
	var notFound *NotFoundError
	return As(err, &notFound)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement FleetError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var fleetErr FleetError
	if As(err, &fleetErr) {
		return fleetErr.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
