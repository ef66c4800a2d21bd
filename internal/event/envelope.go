package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope is the JSON form of a device event sent to remote viewers.
type Envelope struct {
	Type       string         `json:"type"`
	DeviceID   string         `json:"device_id"`
	RunID      string         `json:"run_id,omitempty"`
	Time       time.Time      `json:"time"`
	Text       string         `json:"text,omitempty"`
	Action     map[string]any `json:"action,omitempty"`
	Screenshot string         `json:"screenshot,omitempty"`
	Fatal      bool           `json:"fatal,omitempty"`
}

// ToEnvelope converts a device event into its wire form.
// Events that are not device events return ok=false.
func ToEnvelope(e Event) (Envelope, bool) {
	de, ok := e.(DeviceEvent)
	if !ok {
		return Envelope{}, false
	}
	env := Envelope{
		Type:     e.EventType(),
		DeviceID: de.Device(),
		RunID:    de.Run(),
		Time:     e.Timestamp(),
	}
	switch ev := e.(type) {
	case ThinkingEvent:
		env.Text = ev.Text
	case ActionEvent:
		env.Action = ev.Action
		env.Screenshot = ev.Screenshot
	case LogEvent:
		env.Text = ev.Text
	case ErrorEvent:
		env.Text = ev.Text
		env.Fatal = ev.Fatal
	case FinishedEvent:
		env.Text = ev.Result
	case TakeoverRequestedEvent:
		env.Text = ev.Message
	case CancelledEvent:
		env.Text = ev.Reason
	default:
		return Envelope{}, false
	}
	return env, true
}

// Event rebuilds the typed device event, keeping the original timestamp.
func (env Envelope) Event() (DeviceEvent, error) {
	base := deviceBase{
		baseEvent: baseEvent{eventType: env.Type, timestamp: env.Time},
		DeviceID:  env.DeviceID,
		RunID:     env.RunID,
	}
	switch env.Type {
	case TypeThinking:
		return ThinkingEvent{deviceBase: base, Text: env.Text}, nil
	case TypeAction:
		action := env.Action
		if action == nil {
			action = map[string]any{}
		}
		return ActionEvent{deviceBase: base, Action: action, Screenshot: env.Screenshot}, nil
	case TypeLog:
		return LogEvent{deviceBase: base, Text: env.Text}, nil
	case TypeError:
		return ErrorEvent{deviceBase: base, Text: env.Text, Fatal: env.Fatal}, nil
	case TypeFinished:
		return FinishedEvent{deviceBase: base, Result: env.Text}, nil
	case TypeTakeover:
		return TakeoverRequestedEvent{deviceBase: base, Message: env.Text}, nil
	case TypeCancelled:
		return CancelledEvent{deviceBase: base, Reason: env.Text}, nil
	default:
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
}

// MarshalEvent encodes a device event as an Envelope.
func MarshalEvent(e Event) ([]byte, error) {
	env, ok := ToEnvelope(e)
	if !ok {
		return nil, fmt.Errorf("event %s is not a device event", e.EventType())
	}
	return json.Marshal(env)
}

// UnmarshalEvent decodes an Envelope produced by MarshalEvent.
func UnmarshalEvent(data []byte) (DeviceEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env.Event()
}
