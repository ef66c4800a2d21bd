package event

import "time"

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "device.thinking").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// DeviceEvent is an event produced on behalf of one device during one run.
type DeviceEvent interface {
	Event

	// Device returns the device the event belongs to.
	Device() string

	// Run returns the run ID assigned by the Start call that spawned the worker.
	Run() string

	// Terminal reports whether the event ends the device's run.
	Terminal() bool
}

// Device event types.
const (
	TypeThinking  = "device.thinking"
	TypeAction    = "device.action"
	TypeLog       = "device.log"
	TypeError     = "device.error"
	TypeFinished  = "device.finished"
	TypeTakeover  = "device.takeover"
	TypeCancelled = "device.cancelled"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

// newBaseEvent creates a baseEvent with the current time.
func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// deviceBase carries the attribution shared by every device event.
type deviceBase struct {
	baseEvent
	DeviceID string
	RunID    string
}

func (d deviceBase) Device() string { return d.DeviceID }
func (d deviceBase) Run() string    { return d.RunID }
func (d deviceBase) Terminal() bool { return false }

func newDeviceBase(eventType, deviceID, runID string) deviceBase {
	return deviceBase{
		baseEvent: newBaseEvent(eventType),
		DeviceID:  deviceID,
		RunID:     runID,
	}
}

// -----------------------------------------------------------------------------
// Progress Events
// -----------------------------------------------------------------------------

// ThinkingEvent carries the agent's reasoning for its next step.
type ThinkingEvent struct {
	deviceBase
	Text string
}

// NewThinkingEvent creates a ThinkingEvent.
func NewThinkingEvent(deviceID, runID, text string) ThinkingEvent {
	return ThinkingEvent{deviceBase: newDeviceBase(TypeThinking, deviceID, runID), Text: text}
}

// ActionEvent carries an action the agent issued to the device.
type ActionEvent struct {
	deviceBase
	Action     map[string]any
	Screenshot string // base64 PNG, empty when the agent sent none
}

// NewActionEvent creates an ActionEvent. A nil action map becomes empty.
func NewActionEvent(deviceID, runID string, action map[string]any, screenshot string) ActionEvent {
	if action == nil {
		action = map[string]any{}
	}
	return ActionEvent{
		deviceBase: newDeviceBase(TypeAction, deviceID, runID),
		Action:     action,
		Screenshot: screenshot,
	}
}

// LogEvent carries an informational line for the operator.
type LogEvent struct {
	deviceBase
	Text string
}

// NewLogEvent creates a LogEvent.
func NewLogEvent(deviceID, runID, text string) LogEvent {
	return LogEvent{deviceBase: newDeviceBase(TypeLog, deviceID, runID), Text: text}
}

// ErrorEvent reports a failure. Only a fatal error ends the run.
type ErrorEvent struct {
	deviceBase
	Text  string
	Fatal bool
}

// NewErrorEvent creates an ErrorEvent.
func NewErrorEvent(deviceID, runID, text string, fatal bool) ErrorEvent {
	return ErrorEvent{
		deviceBase: newDeviceBase(TypeError, deviceID, runID),
		Text:       text,
		Fatal:      fatal,
	}
}

// Terminal reports whether the error ended the run.
func (e ErrorEvent) Terminal() bool { return e.Fatal }

// -----------------------------------------------------------------------------
// Control Events
// -----------------------------------------------------------------------------

// TakeoverRequestedEvent is emitted after the agent parked on its gate
// waiting for a human to finish a manual step on the device.
type TakeoverRequestedEvent struct {
	deviceBase
	Message string
}

// NewTakeoverRequestedEvent creates a TakeoverRequestedEvent.
func NewTakeoverRequestedEvent(deviceID, runID, message string) TakeoverRequestedEvent {
	return TakeoverRequestedEvent{
		deviceBase: newDeviceBase(TypeTakeover, deviceID, runID),
		Message:    message,
	}
}

// -----------------------------------------------------------------------------
// Terminal Events
// -----------------------------------------------------------------------------

// FinishedEvent reports a completed run.
type FinishedEvent struct {
	deviceBase
	Result string
}

// NewFinishedEvent creates a FinishedEvent.
func NewFinishedEvent(deviceID, runID, result string) FinishedEvent {
	return FinishedEvent{deviceBase: newDeviceBase(TypeFinished, deviceID, runID), Result: result}
}

// Terminal always returns true.
func (FinishedEvent) Terminal() bool { return true }

// CancelledEvent reports a run stopped before completion.
type CancelledEvent struct {
	deviceBase
	Reason string
}

// NewCancelledEvent creates a CancelledEvent.
func NewCancelledEvent(deviceID, runID, reason string) CancelledEvent {
	return CancelledEvent{deviceBase: newDeviceBase(TypeCancelled, deviceID, runID), Reason: reason}
}

// Terminal always returns true.
func (CancelledEvent) Terminal() bool { return true }

// IsTerminal reports whether e is a device event that ends its run.
func IsTerminal(e Event) bool {
	de, ok := e.(DeviceEvent)
	return ok && de.Terminal()
}
