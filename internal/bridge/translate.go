package bridge

import (
	"fmt"

	"github.com/Iron-Ham/phonefleet/internal/errors"
	"github.com/Iron-Ham/phonefleet/internal/event"
)

// Agent callback event types.
const (
	TypeThinking = "thinking"
	TypeAction   = "action"
	TypeError    = "error"
	TypeFinished = "finished"
	TypeLog      = "log"
)

// Default text used when an agent reports an error without a message.
const defaultErrorText = "Unknown error"

// KnownTypes lists the callback event types Translate accepts.
func KnownTypes() []string {
	return []string{TypeThinking, TypeAction, TypeError, TypeFinished, TypeLog}
}

// Translate maps one agent callback to a device event. Missing or mistyped
// fields take their defaults. Unknown event types return ErrUnknownEventType.
//
// An "error" callback always produces a non-fatal ErrorEvent; only the
// worker decides when a run has failed.
func Translate(deviceID, runID, eventType string, data map[string]any) (event.DeviceEvent, error) {
	switch eventType {
	case TypeThinking:
		return event.NewThinkingEvent(deviceID, runID, stringField(data, "content", "")), nil
	case TypeAction:
		action, _ := data["action"].(map[string]any)
		return event.NewActionEvent(deviceID, runID, action, stringField(data, "screenshot", "")), nil
	case TypeError:
		return event.NewErrorEvent(deviceID, runID, stringField(data, "error", defaultErrorText), false), nil
	case TypeFinished:
		return event.NewFinishedEvent(deviceID, runID, stringField(data, "result", "")), nil
	case TypeLog:
		return event.NewLogEvent(deviceID, runID, stringField(data, "message", "")), nil
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownEventType, eventType)
	}
}

// stringField returns data[key] as text. Non-string values are formatted
// with %v; absent or nil values yield def.
func stringField(data map[string]any, key, def string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
